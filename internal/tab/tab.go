// Package tab runs one simulated dashboard tab. It wires a private identity
// store to the process broadcast bus, the shared signal file and the relay
// socket, installs the session guard, and optionally performs a login on
// startup. It exists to exercise the full transport stack end to end.
package tab

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/al-bashkir/tabguard/internal/config"
	"github.com/al-bashkir/tabguard/internal/guard"
	"github.com/al-bashkir/tabguard/internal/logsanitize"
	"github.com/al-bashkir/tabguard/internal/session"
	"github.com/al-bashkir/tabguard/internal/storage"
	"github.com/al-bashkir/tabguard/internal/transport"
)

// Exit codes for the tab command
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Options controls a tab run.
type Options struct {
	// UserID, when set, makes the tab log in as that user on startup:
	// it stores a demo credential and user record, then initializes and
	// broadcasts a new session.
	UserID string

	// Superseded, when non-nil, receives a value when this tab's session
	// is terminated by a login elsewhere. Used by tests; the process run
	// also prints the notice to stdout.
	Superseded chan<- struct{}
}

// processBus is the in-process broadcast fabric. All tabs hosted in one
// process share it, the way browser tabs of one origin share a
// BroadcastChannel.
var processBus = transport.NewBus()

// Runner executes one tab process.
type Runner struct {
	cfg *config.Config
}

// NewRunner creates a tab runner.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run starts the tab and blocks until ctx is cancelled or the tab's session
// is superseded by a login elsewhere. Returns a process exit code.
func (r *Runner) Run(ctx context.Context, opts Options) int {
	// Each tab keeps its identity in a private in-memory area. Only the
	// signal file and the relay socket are shared between tab processes.
	identityStore := storage.NewProfile().Attach()

	signalStore, err := storage.NewFileStore(r.cfg.Signal.File, r.cfg.Signal.PollInterval())
	if err != nil {
		slog.Error("failed to open signal store", "error", err, "file", r.cfg.Signal.File)
		fmt.Fprintf(os.Stderr, "Error: cannot open signal file: %v\n", err)
		return ExitFailure
	}
	defer signalStore.Close()

	channel := processBus.Channel(r.cfg.Channel.Name)
	channel.ResendDelays = r.cfg.Channel.ResendDelays()

	transports := []transport.Transport{
		channel,
		transport.NewStorageTransport(signalStore, r.cfg.Signal.CleanupDelay()),
		transport.NewRelayTransport(r.cfg.Listen.Socket),
	}

	sessions := session.NewManager(identityStore, transports...)

	done := make(chan struct{})

	g := guard.New(sessions)
	g.Notify = func(message string) {
		fmt.Println(message)
	}
	g.Navigate = func(route string) {
		fmt.Printf("-> %s\n", route)
		if opts.Superseded != nil {
			select {
			case opts.Superseded <- struct{}{}:
			default:
			}
		}
		close(done)
	}
	g.Start()
	defer g.Stop()

	if opts.UserID != "" {
		identity := sessions.Identity()
		identity.SetAuthToken("demo-token-" + session.GenerateSessionID())
		identity.SetUserRecord(fmt.Sprintf(`{"id":%q}`, opts.UserID))

		sessionID := sessions.InitializeSession(opts.UserID)
		if sessionID == "" {
			return ExitFailure
		}

		slog.Info("tab logged in",
			"user_id", logsanitize.Sanitize(opts.UserID),
			"session_id", sessionID,
		)
	}

	slog.Info("tab running",
		"signal_file", r.cfg.Signal.File,
		"relay_socket", r.cfg.Listen.Socket,
		"logged_in", opts.UserID != "",
	)

	select {
	case <-ctx.Done():
	case <-done:
	}
	return ExitSuccess
}
