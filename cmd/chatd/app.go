package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sandevgo/chatd/internal/config"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/mcp"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/internal/service/chat"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/internal/storage/sqlite"
	httptransport "github.com/sandevgo/chatd/internal/transport/http"
	"github.com/sandevgo/chatd/pkg/log"
	"github.com/sandevgo/chatd/pkg/srv"
)

// app holds the storage layer shared by every command.
type app struct {
	cfg *config.AppConfig
	db  *sql.DB

	users    *sqlite.UsersRepo
	keys     *sqlite.KeysRepo
	chats    *sqlite.ChatsRepo
	messages *sqlite.MessagesRepo
}

// openApp loads the runtime .env, parses the app config and opens the
// migrated database.
func openApp(ctx context.Context) (*app, error) {
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		return nil, fmt.Errorf("failed to init env: %w", err)
	}

	cfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to parse App config: %w", err)
	}
	if err := os.MkdirAll(cfg.GetRuntimePath(), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create runtime dir: %w", err)
	}

	db, err := sqlite.NewDB(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &app{
		cfg:      cfg,
		db:       db,
		users:    sqlite.NewUsersRepo(db),
		keys:     sqlite.NewKeysRepo(db),
		chats:    sqlite.NewChatsRepo(db),
		messages: sqlite.NewMessagesRepo(db),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) accounts(ctx context.Context) (core.ServiceAccounts, error) {
	system, err := a.users.EnsureUser(ctx, a.cfg.SystemEmail)
	if err != nil {
		return core.ServiceAccounts{}, fmt.Errorf("system account: %w", err)
	}
	assistant, err := a.users.EnsureUser(ctx, a.cfg.AssistantEmail)
	if err != nil {
		return core.ServiceAccounts{}, fmt.Errorf("assistant account: %w", err)
	}
	return core.ServiceAccounts{System: system.ID, Assistant: assistant.ID}, nil
}

// registry builds the built-in tools and, when load is set, the tools of
// the MCP servers listed in mcp.json.
func (a *app) registry(ctx context.Context, load bool) (*tools.Registry, *mcp.Remote, error) {
	providerCfg := config.NewProviderConfig(ctx)

	registry, err := tools.NewDefaultRegistry(tools.WithSearchURL(providerCfg.SearchURL))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	remote := mcp.NewRemote(filepath.Join(a.cfg.GetRuntimePath(), mcp.ConfigFile), registry, nil)
	if load {
		n, err := remote.Load(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load MCP servers: %w", err)
		}
		log.FromCtx(ctx).Debug().Int("tools", n).Msg("remote tools registered")
	}
	return registry, remote, nil
}

func (a *app) catalog(ctx context.Context) *llm.Catalog {
	return llm.NewCatalog(llm.DefaultModels, a.keys, config.NewProviderConfig(ctx).BaseURLs())
}

// NewServices wires the full server. The returned services are ordered so
// that shutdown stops the HTTP server first and closes the database last.
func (a *app) NewServices(ctx context.Context) ([]srv.Service, error) {
	logger := log.FromCtx(ctx)
	services := []srv.Service{srv.NewCleanup(a.Close)}

	orchCfg := config.NewOrchestratorConfig(ctx)
	serverCfg := config.NewServerConfig(ctx)

	accounts, err := a.accounts(ctx)
	if err != nil {
		return nil, err
	}

	registry, remote, err := a.registry(ctx, true)
	if err != nil {
		return nil, err
	}
	catalog := a.catalog(ctx)
	streams := stream.NewManager(orchCfg.StreamRetention)
	services = append(services, streams, remote)

	chatSvc := chat.NewService(orchCfg, chat.Deps{
		Chats:     a.chats,
		Messages:  a.messages,
		Keys:      a.keys,
		Models:    catalog,
		Tools:     registry,
		Streams:   streams,
		Accounts:  accounts,
		Tokenizer: tokenizer(ctx, orchCfg.TitleEncoding),
	})
	services = append(services, chatSvc)

	if err := os.MkdirAll(a.cfg.GetUploadsPath(), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}

	server := httptransport.NewServer(ctx, serverCfg, a.cfg.GetUploadsPath(), httptransport.Deps{
		Users:   a.users,
		Keys:    a.keys,
		Catalog: catalog,
		Tools:   registry,
		Chats:   chatSvc,
		Streams: streams,
	})
	services = append(services, server)

	logger.Debug().Int("tools", len(registry.Names())).Int("models", len(catalog.Models())).Msg("services wired")
	return services, nil
}

// tokenizer returns nil when the encoding is unset or cannot be loaded;
// titles then fall back to character trimming.
func tokenizer(ctx context.Context, encoding string) chat.Tokenizer {
	if encoding == "" {
		return nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("encoding", encoding).Msg("tokenizer unavailable")
		return nil
	}
	return enc
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
