// Command juicechat joins a chat channel from the terminal. Lines read from
// stdin are sent as messages; incoming messages and connection changes are
// printed as they arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juicebox/juicechat/pkg/api"
	"github.com/juicebox/juicechat/pkg/chat"
	"github.com/juicebox/juicechat/pkg/client"
	"github.com/juicebox/juicechat/pkg/client/crypto"
	"github.com/juicebox/juicechat/pkg/collab"
	"github.com/juicebox/juicechat/pkg/config"
	"github.com/juicebox/juicechat/pkg/identity"
	"github.com/juicebox/juicechat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	chatID := flag.String("chat", "", "Chat id to join (required)")
	messageID := flag.String("interactive", "", "Message id whose interactive components to follow")
	token := flag.String("token", "", "Sign in with this session token before joining")
	address := flag.String("address", "", "Wallet address that goes with -token")
	logout := flag.Bool("logout", false, "Forget the stored session token and exit")
	debug := flag.Bool("debug", false, "Log connection details to stderr")
	flag.Parse()

	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(io.Discard, "", log.LstdFlags|log.Lmicroseconds)
	if *debug {
		logger.SetOutput(os.Stderr)
	}

	statePath, err := cfg.GetStatePath()
	if err != nil {
		log.Fatalf("Failed to resolve state path: %v", err)
	}
	state, err := client.OpenState(statePath)
	if err != nil {
		log.Fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	ident, err := identity.NewProvider(state)
	if err != nil {
		log.Fatalf("Failed to set up session: %v", err)
	}
	ident.SetLogger(logger)

	if *logout {
		if err := ident.Logout(); err != nil {
			log.Fatalf("Failed to log out: %v", err)
		}
		fmt.Println("Logged out")
		return
	}
	if *token != "" {
		if err := ident.Login(*token, *address); err != nil {
			log.Fatalf("Failed to store session token: %v", err)
		}
	}
	if *chatID == "" {
		fmt.Fprintln(os.Stderr, "usage: juicechat -chat <id> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(cfg, state, ident, logger, *chatID, *messageID); err != nil {
		log.Fatalf("juicechat: %v", err)
	}
}

func run(cfg config.TOMLConfig, state *client.State, ident *identity.Provider, logger *log.Logger, chatID, messageID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsBase, err := cfg.WebSocketBase()
	if err != nil {
		return err
	}
	backend, err := api.New(cfg.Backend.APIBase, ident)
	if err != nil {
		return err
	}

	store := chat.NewStore()
	store.SetLogger(logger)
	store.SetPersister(state)
	if err := store.Load(); err != nil {
		logger.Printf("Discarding cached chat state: %v", err)
	}

	reg := prometheus.NewRegistry()
	conn := client.NewManager(wsBase, ident)
	conn.SetLogger(logger)
	conn.SetMetrics(client.NewMetrics(reg))
	conn.SetOptions(cfg.ConnectionOptions())
	conn.SetDialer(client.NewWebSocketDialer(cfg.HandshakeTimeout()))
	defer conn.Close()

	binder := chat.NewBinder(store)
	binder.SetLogger(logger)
	binder.Bind(conn)
	defer binder.Close()

	keys := crypto.NewKeyStore(state)
	loader := chat.NewSync(store, backend, conn, ident.CurrentUserAddress)
	loader.SetCipher(keys)

	out := newPrinter(os.Stdout, ident.CurrentUserAddress(), loader.Plaintext)
	unsubscribe := conn.OnMessage(out.status)
	defer unsubscribe()
	unsubscribe = store.Subscribe(func(st chat.State) { out.messages(st, chatID) })
	defer unsubscribe()

	// Background loops stop before run returns
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	wg.Add(1)
	go func() {
		defer wg.Done()
		state.Watch(ctx, chat.StorageKey, cfg.WatchInterval(), func() {
			if err := store.Rehydrate(); err != nil {
				logger.Printf("Failed to reload chat state: %v", err)
			}
		})
	}()

	if probeAddr, err := client.ProbeAddress(wsBase); err == nil {
		monitor := client.NewNetworkMonitor(conn, client.TCPProber{Addr: probeAddr}, cfg.ProbeInterval())
		monitor.SetLogger(logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Run(ctx)
		}()
	} else {
		logger.Printf("Network monitor disabled: %v", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	var session *collab.Session
	if messageID != "" {
		session = collab.NewSession(conn, collab.Config{
			ChatID:        chatID,
			MessageID:     messageID,
			Address:       ident.CurrentUserAddress(),
			TypingTimeout: cfg.TypingTimeout(),
		})
		session.SetLogger(logger)
		session.Subscribe(out.collab)
		defer session.Close()
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = loader.OpenChat(loadCtx, chatID)
	cancel()
	if err != nil {
		// The channel is already connecting; history can be retried later
		fmt.Fprintf(os.Stderr, "Could not load chat history: %v\n", err)
	}
	out.messages(store.Snapshot(), chatID)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, line, chatID, loader, backend, conn, keys, session); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// handleLine runs one input line: a slash command or a message
func handleLine(ctx context.Context, line, chatID string, loader *chat.Sync, backend *api.Client, conn *client.Manager, keys *crypto.KeyStore, session *collab.Session) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := loader.SendMessage(ctx, chatID, line)
		return err
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "quit", "exit":
		return errQuit
	case "reconnect":
		conn.Connect(chatID)
		return nil
	case "status":
		st := conn.Status()
		fmt.Printf("state=%s connected=%v online=%v attempt=%d\n", conn.State(), st.IsConnected, st.IsOnline, st.Attempt)
		return nil
	case "ai":
		_, err := backend.InvokeAI(ctx, chatID, api.InvokeAIRequest{Prompt: rest})
		return err
	case "invite":
		inv, err := backend.CreateInvite(ctx, chatID, api.CreateInviteRequest{})
		if err != nil {
			return err
		}
		fmt.Printf("invite code: %s\n", inv.Code)
		return nil
	case "pubkey":
		pub, err := keys.PublicKey()
		if err != nil {
			return err
		}
		fmt.Printf("device key: %s\n", pub)
		return nil
	case "newkey":
		_, err := keys.NewChatKey(chatID)
		return err
	case "sharekey":
		sealed, err := keys.ShareChatKey(chatID, rest)
		if err != nil {
			return err
		}
		fmt.Printf("sealed chat key: %s\n", sealed)
		return nil
	case "importkey":
		return keys.ImportChatKey(chatID, rest)
	case "select", "type", "hover", "unhover":
		if session == nil {
			return errors.New("start with -interactive <message id> to use " + cmd)
		}
		group, value, _ := strings.Cut(rest, " ")
		switch cmd {
		case "select":
			if value == "" {
				return session.SendSelection(group, nil)
			}
			return session.SendSelection(group, &value)
		case "type":
			return session.SendTyping(value, group)
		case "hover":
			return session.SendHover(group, true)
		default:
			return session.SendHover(group, false)
		}
	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
}

// printer writes each message once, in store order
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	self    string
	reveal  func(chat.Message) (string, error)
	printed map[string]bool
}

func newPrinter(w io.Writer, self string, reveal func(chat.Message) (string, error)) *printer {
	return &printer{w: w, self: self, reveal: reveal, printed: make(map[string]bool)}
}

func (p *printer) messages(st chat.State, chatID string) {
	c, ok := st.Chat(chatID)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range c.Messages {
		if p.printed[m.ID] || m.IsStreaming {
			continue
		}
		p.printed[m.ID] = true
		who := m.SenderAddress
		switch {
		case m.Role == chat.RoleAssistant:
			who = "assistant"
		case identity.SameAddress(who, p.self):
			who = "you"
		}
		text, err := p.reveal(m)
		if err != nil {
			text = "[encrypted: " + err.Error() + "]"
		}
		fmt.Fprintf(p.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, text)
	}
}

func (p *printer) status(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeConnectionStatus:
		var st protocol.ConnectionStatusData
		if f.DecodeData(&st) != nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		switch st.Status {
		case protocol.StatusReconnecting:
			fmt.Fprintf(p.w, "* reconnecting (attempt %d, in %dms)\n", st.Attempt, st.DelayMs)
		default:
			fmt.Fprintf(p.w, "* %s\n", st.Status)
		}
	case protocol.TypeError:
		var e protocol.ErrorData
		if f.DecodeData(&e) != nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.w, "* server error: %s\n", e.Message)
	}
}

func (p *printer) collab(snap collab.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for group, entries := range snap.Selections {
		for _, e := range entries {
			fmt.Fprintf(p.w, "~ %s %s selected %q in %s\n", e.Emoji, e.Address, e.Value, group)
		}
	}
	for group, entries := range snap.Typing {
		for _, e := range entries {
			fmt.Fprintf(p.w, "~ %s %s is typing in %s: %s\n", e.Emoji, e.Address, group, e.Text)
		}
	}
	for group, entries := range snap.Hovers {
		for _, e := range entries {
			fmt.Fprintf(p.w, "~ %s %s is looking at %s\n", e.Emoji, e.Address, group)
		}
	}
}
