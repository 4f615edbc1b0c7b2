package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vanguar/german-morning-bot/internal/bot"
	"github.com/vanguar/german-morning-bot/internal/broadcast"
	"github.com/vanguar/german-morning-bot/internal/config"
	"github.com/vanguar/german-morning-bot/internal/database"
	"github.com/vanguar/german-morning-bot/internal/engine"
	"github.com/vanguar/german-morning-bot/internal/excel"
	"github.com/vanguar/german-morning-bot/internal/lessons"
	"github.com/vanguar/german-morning-bot/internal/logging"
	"github.com/vanguar/german-morning-bot/internal/scheduler"
)

func main() {
	importPath := flag.String("import", "", "convert an xlsx/csv curriculum into the lessons file and exit")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogFile)

	// Режим импорта не требует токена
	if *importPath != "" {
		if err := runImport(*importPath, cfg.LessonsFile); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		return
	}

	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN environment variable is not set")
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	curriculum := lessons.NewStore(cfg.LessonsFile)
	if err := curriculum.Load(); err != nil {
		log.Printf("Warning: curriculum not loaded, continuing with an empty lesson set: %v", err)
	}
	renderer := lessons.NewRenderer()

	subscribers := database.NewSubscriberRepository(db)
	errorLog := database.NewDeliveryErrorRepository(db)
	stats := database.NewStatisticsRepository(db)

	eng := engine.New(subscribers, curriculum, renderer, engine.Config{
		MaxManualPerDay:       cfg.MaxManualPerDay,
		DefaultLevel:          cfg.DefaultLevel,
		RestartCountsAsManual: cfg.RestartCountsAsManual,
	})

	b, err := bot.New(cfg, eng, curriculum, stats)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	driver := broadcast.NewDriver(subscribers, curriculum, renderer, b, errorLog, broadcast.Options{
		Concurrency: cfg.BroadcastConcurrency,
		SendTimeout: cfg.SendTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(cfg.Timezone, cfg.AutosendHour, cfg.AutosendMinute, func() {
		if err := driver.Run(ctx); err != nil {
			log.Printf("Broadcast run finished with error: %v", err)
		}
	})
	sched.Start()
	defer sched.Stop()

	// Горутина для обработки сигналов
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	log.Println("Bot started. Press Ctrl+C to stop.")
	if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Bot error: %v", err)
	}
	log.Println("Bot stopped")
}

// runImport converts a spreadsheet curriculum into the lessons file
func runImport(source, target string) error {
	importCfg := excel.DefaultImportConfig()
	importCfg.FilePath = source

	curriculum, result, err := excel.ImportLessons(importCfg)
	if err != nil {
		return err
	}
	if err := excel.WriteLessonsFile(target, curriculum); err != nil {
		return err
	}
	log.Printf("Imported %d lessons across %d levels into %s (%d rows processed)",
		result.Lessons, result.Levels, target, result.TotalProcessed)
	for _, e := range result.Errors {
		log.Printf("Warning: %s", e)
	}
	if result.Lessons == 0 {
		return fmt.Errorf("no lessons found in %s", source)
	}
	return nil
}
