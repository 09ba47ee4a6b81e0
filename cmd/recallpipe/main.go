package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/recallpipe/internal/config"
	"github.com/stellarlinkco/recallpipe/internal/export"
	"github.com/stellarlinkco/recallpipe/internal/history"
	"github.com/stellarlinkco/recallpipe/internal/pipeline"
	"github.com/stellarlinkco/recallpipe/internal/recall"
	"github.com/stellarlinkco/recallpipe/internal/retention"
	"github.com/stellarlinkco/recallpipe/internal/store"
	"github.com/stellarlinkco/recallpipe/internal/tokenizer"
)

// Services bundles the wired subsystems a command needs.
type Services struct {
	Cfg     *config.Config
	Store   *store.Store
	Counter tokenizer.Counter
	Recall  *recall.Service
}

func (s *Services) Close() {
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

func defaultServices() (*Services, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	counter, err := recall.BuildCounter(cfg.Recall.Encoding)
	if err != nil {
		st.Close()
		return nil, err
	}

	chain, err := recall.BuildChain(cfg.Recall.Stages, counter)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build chain: %w", err)
	}

	svc, err := recall.NewService(st, chain, counter)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Services{Cfg: cfg, Store: st, Counter: counter, Recall: svc}, nil
}

// openServices is swapped in tests.
var openServices = defaultServices

var rootCmd = &cobra.Command{
	Use:   "recallpipe",
	Short: "recallpipe - conversation history store and recall pipeline",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config and history database",
	RunE:  runInit,
}

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a message to a session",
	RunE:  runAppend,
}

var recallCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall a session through the processing chain",
	RunE:  runRecall,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a processed session as an agent request payload",
	RunE:  runExport,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE:  runSessions,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a session's raw stored messages",
	RunE:  runShow,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over stored messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions idle beyond the retention window",
	RunE:  runPrune,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE:  runStats,
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the retention schedule until interrupted",
	RunE:  runMaintain,
}

var (
	sessionFlag  string
	roleFlag     string
	textFlag     string
	partsFlag    string
	channelFlag  string
	peerFlag     string
	jsonFlag     bool
	statsFlag    bool
	limitFlag    int
	optimizeFlag bool
)

func init() {
	appendCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID (empty creates a new session)")
	appendCmd.Flags().StringVarP(&roleFlag, "role", "r", "user", "Message role: user, assistant, system or tool")
	appendCmd.Flags().StringVarP(&textFlag, "text", "m", "", "Plain-text message content")
	appendCmd.Flags().StringVar(&partsFlag, "parts", "", "Message content as a JSON array of typed parts")
	appendCmd.Flags().StringVar(&channelFlag, "channel", "", "Channel label for a new session")
	appendCmd.Flags().StringVar(&peerFlag, "peer", "", "Peer label for a new session")

	recallCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID")
	recallCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a transcript")
	recallCmd.Flags().BoolVar(&statsFlag, "stats", false, "Print window statistics after the transcript")

	exportCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID")

	sessionsCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON")

	showCmd.Flags().StringVarP(&sessionFlag, "session", "s", "", "Session ID")
	showCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON")

	searchCmd.Flags().IntVarP(&limitFlag, "limit", "n", 10, "Maximum number of hits")

	pruneCmd.Flags().BoolVar(&optimizeFlag, "optimize", false, "Also optimize the search index")

	rootCmd.AddCommand(initCmd, appendCmd, recallCmd, exportCmd, sessionsCmd, showCmd, searchCmd, pruneCmd, statsCmd, maintainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	fmt.Printf("Database ready: %s\n", cfg.Store.DBPath)
	return nil
}

func runAppend(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	role, err := parseRole(roleFlag)
	if err != nil {
		return err
	}

	var msg history.Message
	switch {
	case partsFlag != "":
		var parts []history.Part
		if err := json.Unmarshal([]byte(partsFlag), &parts); err != nil {
			return fmt.Errorf("parse parts: %w", err)
		}
		msg = history.PartsMessage(role, parts...)
	case textFlag != "":
		msg = history.TextMessage(role, textFlag)
	default:
		return fmt.Errorf("nothing to append: set --text or --parts")
	}

	sessionID := sessionFlag
	if sessionID == "" {
		sess, err := svc.Store.NewSession(channelFlag, peerFlag)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
		fmt.Printf("Created session: %s\n", sessionID)
	}

	tokens, err := pipeline.MessageCost(svc.Counter, msg)
	if err != nil {
		return fmt.Errorf("estimate message: %w", err)
	}

	seq, err := svc.Store.Append(sessionID, msg, tokens)
	if err != nil {
		return err
	}
	fmt.Printf("Appended message %d to session %s (~%d tokens)\n", seq, sessionID, tokens)
	return nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	if sessionFlag == "" {
		return fmt.Errorf("--session is required")
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	msgs, stats, err := svc.Recall.Recall(sessionFlag)
	if err != nil {
		return err
	}

	if jsonFlag {
		out := struct {
			SessionID string            `json:"session_id"`
			Stats     recall.Stats      `json:"stats"`
			Messages  []history.Message `json:"messages"`
		}{sessionFlag, stats, msgs}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal window: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(export.Transcript(msgs))
	if statsFlag {
		fmt.Printf("\n%d -> %d messages, %d dropped, ~%d tokens\n", stats.MessagesIn, stats.MessagesOut, stats.Dropped, stats.TokensOut)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if sessionFlag == "" {
		return fmt.Errorf("--session is required")
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	msgs, _, err := svc.Recall.Recall(sessionFlag)
	if err != nil {
		return err
	}

	req := export.Request(sessionFlag, msgs)
	out := struct {
		SessionID     string               `json:"session_id"`
		Prompt        string               `json:"prompt,omitempty"`
		ContentBlocks []model.ContentBlock `json:"content_blocks,omitempty"`
	}{req.SessionID, req.Prompt, req.ContentBlocks}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	sessions, err := svc.Store.Sessions()
	if err != nil {
		return err
	}

	if jsonFlag {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal sessions: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}
	for _, s := range sessions {
		peer := s.Peer
		if peer == "" {
			peer = "-"
		}
		fmt.Printf("%s  %s/%s  %d messages  updated %s\n", s.ID, s.Channel, peer, s.Messages, s.UpdatedAt)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	if sessionFlag == "" {
		return fmt.Errorf("--session is required")
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	msgs, err := svc.Store.Messages(sessionFlag)
	if err != nil {
		return err
	}

	if jsonFlag {
		data, err := json.MarshalIndent(msgs, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal messages: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, m := range msgs {
		if m.IsPlainText() {
			fmt.Printf("%s: %s\n", m.Role, m.Text)
			continue
		}
		parts, err := json.Marshal(m.Parts)
		if err != nil {
			return fmt.Errorf("marshal parts: %w", err)
		}
		fmt.Printf("%s: %s\n", m.Role, parts)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	query := strings.Join(args, " ")
	hits, err := svc.Store.SearchFTS(query, limitFlag)
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%s #%d [%s] %s\n", h.SessionID, h.Seq, h.Role, h.Text)
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	ret := newRetention(svc)
	n, err := ret.RunPruneNow()
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d idle sessions\n", n)

	if optimizeFlag {
		if err := ret.RunOptimizeNow(); err != nil {
			return err
		}
		fmt.Println("Search index optimized")
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Store.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Database: %s\n", svc.Cfg.Store.DBPath)
	fmt.Printf("Encoding: %s\n", svc.Cfg.Recall.Encoding)
	fmt.Printf("Chain: %s\n", chainDisplay(svc.Recall.Stages()))
	fmt.Printf("Sessions: %d\n", st.Sessions)
	fmt.Printf("Messages: %d\n", st.Messages)
	fmt.Printf("Stored tokens: %d\n", st.TotalTokens)
	return nil
}

func runMaintain(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ret := newRetention(svc)
	if err := ret.Start(ctx); err != nil {
		return err
	}

	fmt.Println("Retention schedule running (ctrl-c to stop)")
	<-ctx.Done()
	ret.Stop()
	return nil
}

func newRetention(svc *Services) *retention.Service {
	window := time.Duration(svc.Cfg.Retention.IdleDays) * 24 * time.Hour
	return retention.NewService(svc.Store, window, svc.Cfg.Retention.PruneSpec, svc.Cfg.Retention.OptimizeSpec)
}

func parseRole(s string) (history.Role, error) {
	switch history.Role(s) {
	case history.RoleUser, history.RoleAssistant, history.RoleSystem, history.RoleTool:
		return history.Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func chainDisplay(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, " -> ")
}
