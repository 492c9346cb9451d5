package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/planti/internal/api"
	"github.com/lox/planti/internal/auth"
	"github.com/lox/planti/internal/health"
	"github.com/lox/planti/internal/httputil"
	"github.com/lox/planti/internal/jobs"
	"github.com/lox/planti/internal/mail"
	"github.com/lox/planti/internal/store"
	"github.com/lox/planti/internal/weather"
)

type Globals struct {
	EnvFile    kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB         string                   `name:"db" env:"PLANTI_DB" default:"data/planti.db" help:"Path to SQLite database."`
	WeatherURL string                   `name:"weather-url" env:"WEATHER_URL" default:"https://api.open-meteo.com/v1/forecast" help:"Open-Meteo forecast endpoint."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the HTTP API and the daily health job."`
	RunJob  RunJobCmd  `cmd:"" name:"run-job" help:"Run the plant health job once and exit."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
}

type ServeCmd struct {
	Port          string `env:"PORT" default:"3001" help:"HTTP server port."`
	JWTSecret     string `name:"jwt-secret" env:"JWT_SECRET" required:"" help:"HMAC secret for session tokens."`
	FrontendURL   string `name:"frontend-url" env:"FRONTEND_URL" default:"http://localhost:3000" help:"Base URL for magic links and CORS."`
	MailHost      string `name:"mail-host" env:"MAIL_HOST" help:"SMTP relay host. Links are logged when empty."`
	MailPort      int    `name:"mail-port" env:"MAIL_PORT" default:"1025" help:"SMTP relay port."`
	MailFrom      string `name:"mail-from" env:"MAIL_FROM" default:"noreply@planti.app" help:"Sender address."`
	MailUser      string `name:"mail-user" env:"MAIL_USER" help:"SMTP PLAIN auth username. No auth when empty."`
	MailPassword  string `name:"mail-password" env:"MAIL_PASSWORD" help:"SMTP PLAIN auth password."`
	HealthJobAt   string `name:"health-job-at" env:"HEALTH_JOB_AT" default:"10:00" help:"Local time of the daily health job (HH:MM)."`
	Timezone      string `name:"tz" env:"TZ_NAME" default:"UTC" help:"Timezone for the daily schedule."`
	NoSchedule    bool   `name:"no-schedule" env:"NO_SCHEDULE" help:"Disable the daily health job (server only, for local dev)."`
	SecureCookies bool   `name:"secure-cookies" env:"SECURE_COOKIES" help:"Mark session cookies Secure."`
}

type RunJobCmd struct{}

type MigrateCmd struct{}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("planti"),
		kong.Description("Houseplant health tracking service."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

func openStore(path string) (*store.Store, *sql.DB, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")
	return st, db, nil
}

// newHealthService builds the evaluator for on-demand API requests. The
// weather client keeps its circuit breaker so a dead upstream fails fast.
func newHealthService(g *Globals, st *store.Store) *health.Service {
	wc := weather.NewClient(g.WeatherURL, weather.WithHTTPClient(httputil.NewClient(httputil.DefaultTimeout)))
	return health.NewService(wc, st)
}

// newJobHealthService builds the evaluator for the batch job. Every plant
// gets its own request, so no failure can short-circuit later plants.
func newJobHealthService(g *Globals, st *store.Store) *health.Service {
	wc := weather.NewClient(g.WeatherURL,
		weather.WithHTTPClient(httputil.NewClient(httputil.DefaultTimeout)),
		weather.WithoutBreaker(),
	)
	return health.NewService(wc, st)
}

func (c *MigrateCmd) Run(g *Globals) error {
	st, db, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	log.Printf("schema at version %d", v)
	return nil
}

func (c *RunJobCmd) Run(g *Globals) error {
	st, db, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	job := jobs.NewHealthJob(st, newJobHealthService(g, st), st)
	summary, err := job.Run(ctx, jobs.TriggerManual)
	if err != nil {
		return err
	}
	if err := summary.Err(); err != nil {
		log.Printf("plant failures: %v", err)
	}
	log.Printf("done: %d succeeded, %d failed", summary.Succeeded, summary.Failed)
	return nil
}

func (c *ServeCmd) Run(g *Globals) error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", c.Timezone, err)
		loc = time.UTC
	}

	st, db, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	var mailer auth.Mailer = mail.LogMailer{}
	if c.MailHost != "" {
		smtpMailer := mail.NewSMTPMailer(c.MailHost, c.MailPort, c.MailFrom)
		if c.MailUser != "" {
			smtpMailer = smtpMailer.WithAuth(c.MailUser, c.MailPassword, c.MailHost)
		}
		mailer = smtpMailer
	} else {
		log.Println("mail host not set, magic links will be logged")
	}

	healthSvc := newHealthService(g, st)
	authSvc := auth.NewService(st, mailer, []byte(c.JWTSecret), c.FrontendURL)

	server := api.NewServer(st, healthSvc, authSvc, c.Port)
	server.SetAllowedOrigins(c.FrontendURL)
	server.SetSecureCookies(c.SecureCookies)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoSchedule {
		scheduler := jobs.NewScheduler(jobs.NewHealthJob(st, newJobHealthService(g, st), st), c.HealthJobAt, loc)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
		server.SetScheduler(scheduler)
	} else {
		log.Println("daily health job disabled (--no-schedule)")
	}

	log.Printf("starting server on :%s", c.Port)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
