package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"slidelive/internal/buffer"
	"slidelive/internal/config"
	"slidelive/internal/room"
	"slidelive/internal/store"
	"slidelive/internal/ws"
	staticserver "slidelive/static"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides SLIDELIVE_PORT)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`SlideLive - Real-time classroom presentation server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or SLIDELIVE_PORT)

Environment Variables:
  SLIDELIVE_PORT         Port to listen on (default: 8080)
  SLIDELIVE_DB_HOST      Postgres host (default: localhost)
  SLIDELIVE_DB_USER      Postgres user
  SLIDELIVE_DB_PASSWORD  Postgres password
  SLIDELIVE_DB_NAME      Postgres database name
  SLIDELIVE_DB_PORT      Postgres port (default: 5432)
  SLIDELIVE_BUFFERPATH   Path of the offline response queue (default: ./data/pending.db)
  SLIDELIVE_BASEPOINTS   Default base points per correct answer (default: 100)

Visit http://localhost:8080 after starting the server.
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("SlideLive %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	db, err := store.NewPostgres(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()
	if err := db.AutoMigrate(); err != nil {
		log.Fatalf("failed to auto migrate database: %v", err)
	}

	queue, err := buffer.Open(cfg.BufferPath, db)
	if err != nil {
		log.Fatalf("failed to open response buffer: %v", err)
	}
	defer queue.Close()

	// Replay answers queued while the store was unreachable.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := queue.Flush(context.Background()); err != nil {
				zerologlog.Warn().Err(err).Msg("buffer flush failed")
			}
		}
	}()

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		zerologlog.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	sock := ws.New(db, queue)
	if cfg.Export.Enabled {
		sock.SetOnEnd(func(sess room.Session, lb []room.LeaderboardEntry) {
			if err := room.ExportResults(&sess, lb, cfg.Export.File); err != nil {
				zerologlog.Error().Err(err).Msg("failed to export session results")
			} else {
				zerologlog.Info().Str("file", cfg.Export.File).Msg("exported session results")
			}
		})
	}
	io := sock.Mount(r)
	defer io.Close()
	manager := sock.Manager()

	// Join preflight: lets the student UI reject a dead code before opening
	// the socket.
	r.GET("/api/room/:code", func(c *gin.Context) {
		sess, err := manager.Join(c.Request.Context(), c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found or closed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomCode": sess.RoomCode, "slideCount": len(sess.Slides)})
	})

	// Presenter room creation over plain HTTP (the socket path exists too).
	r.POST("/api/presenter/session", func(c *gin.Context) {
		var req struct {
			Slides     []room.Slide   `json:"slides"`
			ScoreMode  room.ScoreMode `json:"scoreMode"`
			BasePoints int            `json:"basePoints"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session"})
			return
		}
		if req.BasePoints <= 0 {
			req.BasePoints = cfg.BasePoints
		}
		ctrl, err := manager.CreateRoom(c.Request.Context(), req.Slides, req.ScoreMode, req.BasePoints)
		if errors.Is(err, room.ErrNoSlides) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no_slides"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
			return
		}
		sess := ctrl.Snapshot()
		c.JSON(http.StatusOK, gin.H{"roomCode": sess.RoomCode, "hostToken": ctrl.HostToken()})
	})

	// Serve frontend (if embedded build is present) for all other routes
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})

	log.Printf("listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
