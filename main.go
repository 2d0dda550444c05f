package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gewe-hub/auth"
	"gewe-hub/config"
	"gewe-hub/db"
	"gewe-hub/gateway"
	"gewe-hub/hub"
	"gewe-hub/metrics"
	"gewe-hub/redirect"
	"gewe-hub/storage"
	"gewe-hub/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "gewe-hub",
		Short:        "gewechat回调事件分类与转发",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "配置文件路径，不存在时只使用环境变量")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动回调服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	root.AddCommand(serveCmd, newUserCmd(&configPath))
	root.RunE = serveCmd.RunE
	return root
}

func newUserCmd(configPath *string) *cobra.Command {
	withAuth := func(fn func(m *auth.Manager, args []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			database, err := connectDB(cfg)
			if err != nil {
				return err
			}
			return fn(auth.NewAuthManager(database), args)
		}
	}
	user := &cobra.Command{Use: "user", Short: "管理下游用户"}
	user.AddCommand(
		&cobra.Command{
			Use:   "add <username> <password>",
			Short: "添加用户",
			Args:  cobra.ExactArgs(2),
			RunE: withAuth(func(m *auth.Manager, args []string) error {
				return m.CreateUser(args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "passwd <username> <password>",
			Short: "修改密码",
			Args:  cobra.ExactArgs(2),
			RunE: withAuth(func(m *auth.Manager, args []string) error {
				return m.SetPassword(args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "del <username>",
			Short: "删除用户",
			Args:  cobra.ExactArgs(1),
			RunE: withAuth(func(m *auth.Manager, args []string) error {
				return m.DeleteUser(args[0])
			}),
		},
	)
	return user
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLog := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(appLog)
	metrics.Register()

	// 创建缓存目录
	if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
		return err
	}
	// 数据库
	database, err := connectDB(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlDB.Close()
	}()
	cache, err := db.NewBadgerStorage(path.Join(cfg.DataDir, "cache"))
	if err != nil {
		return err
	}
	defer func() {
		_ = cache.Close()
	}()

	authManager := auth.NewAuthManager(database)
	// 小于等于0时不限速
	limit := rate.Inf
	if cfg.Gateway.RateLimit > 0 {
		limit = rate.Limit(cfg.Gateway.RateLimit)
	}
	client := gateway.New(cfg.Gateway.BaseURL, cfg.AppID,
		gateway.WithToken(cfg.Gateway.Token),
		gateway.WithDownloadURL(cfg.Gateway.DownloadURL),
		gateway.WithLimit(limit, 1),
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithLogger(appLog),
	)

	// 资源管理器
	memberManager := hub.NewMemberManager(client, database, cache, hub.WithMemberLogger(appLog))
	messageManager := hub.NewMessageManager(database)
	files := storage.NewLocalStorage(path.Join(cfg.DataDir, "files"))

	// 消息发送
	sender := NewMsgSender(client, memberManager, files, WithSenderLogger(appLog))

	events := store.New(store.WithLogger(appLog))
	purger := store.NewPurger(events, cfg.RetentionDays, store.WithSchedule(cfg.PurgeSpec), store.WithPurgeHour(cfg.PurgeHour))
	classifier := hub.NewClassifier(hub.WithSelf(cfg.Wxid), hub.WithNicknames(cfg.Nicknames...), hub.WithLogger(appLog))
	h := NewHub(classifier, events,
		WithSelf(cfg.Wxid, cfg.SelfMessageVisible),
		WithJournal(messageManager),
		WithMember(memberManager),
		WithSender(sender),
		WithShutdownTimeout(cfg.Dispatch.ShutdownTimeout),
		WithHubLogger(appLog),
	)

	g, ctx := errgroup.WithContext(ctx)

	// 消息转发器
	if cfg.WS.Port > 0 {
		ws := redirect.NewWSServerRedirector(
			redirect.WSServerHeartbeat(cfg.WS.Heartbeat),
			redirect.WSServerAuth(authManager),
			redirect.WSServerLogger(appLog),
		)
		h.AddRedirect(ws)
		g.Go(func() error { return ws.ListenAndServe(ctx, cfg.WS.Port) })
	}
	for _, server := range cfg.WS.Servers {
		c := redirect.NewWSClientRedirector(server, redirect.WSClientHeartbeat(cfg.WS.Heartbeat), redirect.WSClientLogger(appLog))
		h.AddRedirect(c)
		g.Go(func() error { return c.Run(ctx) })
	}
	if cfg.MQTT.Port > 0 || cfg.MQTT.WSPort > 0 {
		options := []redirect.MQTTOption{
			redirect.WithSubscribeTopic(cfg.MQTT.SubscribeTopic),
			redirect.WithMQTTAuth(authManager),
			redirect.WithMQTTLogger(appLog),
		}
		if cfg.MQTT.Port > 0 {
			options = append(options, redirect.WithTCP(cfg.MQTT.Port))
		}
		if cfg.MQTT.WSPort > 0 {
			options = append(options, redirect.WithWS(cfg.MQTT.WSPort))
		}
		mqtt := redirect.NewMQTTRedirector(cfg.MQTT.PublishTopic, options...)
		h.AddRedirect(mqtt)
		g.Go(func() error { return mqtt.ListenAndServe(ctx) })
	}

	g.Go(func() error { return purger.Run(ctx) })
	handler := NewHttpHandler(cfg.HTTP.CallbackPath, h, files, sender,
		WithBaseAuth(authManager),
		WithMemberManager(memberManager),
		WithMessageManager(messageManager),
		WithHandlerLogger(appLog),
	)
	g.Go(func() error { return handler.ListenAndServe(ctx, cfg.HTTP.Port) })

	if cfg.Gateway.CallbackURL != "" {
		g.Go(func() error {
			// 等待http服务启动后再设置回调
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			if err := client.SetCallback(ctx, cfg.Gateway.CallbackURL); err != nil {
				appLog.Error("设置回调地址失败", "callbackUrl", cfg.Gateway.CallbackURL, "error", err)
				return nil
			}
			appLog.Info("已设置回调地址", "callbackUrl", cfg.Gateway.CallbackURL)
			return nil
		})
	}

	err = g.Wait()
	if serr := h.Shutdown(); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func connectDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Type {
	case "mysql":
		dialector = mysql.Open(cfg.DB.DSN())
	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(path.Join(cfg.DataDir, "database.sqlite"))
	default:
		return nil, fmt.Errorf("unknown db type: %s", cfg.DB.Type)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      false,
				Colorful:                  true,
			},
		),
	})
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to connect connectDB"))
	}
	return database, nil
}
