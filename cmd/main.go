package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tutor-rag/internal/config"
	"tutor-rag/internal/helper"
	"tutor-rag/internal/models"
	"tutor-rag/internal/service"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment as-is")
	}

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to a textbook file to ingest")
	student := flag.String("student", "demo-student", "Student ID")
	name := flag.String("name", "Student", "Student name")
	subject := flag.String("subject", "Science", "Subject")
	grade := flag.Int("grade", 3, "Grade (1-5)")
	query := flag.String("query", "", "Question to ask")
	stream := flag.Bool("stream", true, "Stream pipeline stages (false = single response)")
	deleteBook := flag.Bool("delete", false, "Delete the stored textbook for student+subject")
	stats := flag.Bool("stats", false, "Show textbook stats for student+subject")
	challengeFlag := flag.Bool("challenge", false, "Generate a practice challenge")
	sheet := flag.String("sheet", "", "Concept to render a study sheet for")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Config file not loaded, using defaults")
		cfg = config.Default()
	}

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start service")
	}
	defer svc.Shutdown()

	ctx := context.Background()

	switch {
	case *filePath != "":
		ingestFile(ctx, svc, *filePath, *student, *subject, *grade)
	case *deleteBook:
		deleteTextbook(svc, *student, *subject)
	case *stats:
		showStats(svc, *student, *subject)
	case *challengeFlag:
		showChallenge(ctx, svc, *subject, *grade)
	case *sheet != "":
		renderSheet(ctx, svc, *sheet, *subject, *grade)
	case *query != "":
		ask(ctx, svc, *query, profile(svc, *student, *name, *subject, *grade), *stream)
	default:
		flag.Usage()
	}
}

func ingestFile(ctx context.Context, svc *service.Service, path, student, subject string, grade int) {
	start := time.Now()
	count, err := svc.IngestFile(ctx, path, student, subject, grade)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Ingestion failed")
	}
	log.Info().
		Int("chunks", count).
		Str("subject", subject).
		Dur("took", time.Since(start)).
		Msg("Textbook ingested")
}

func deleteTextbook(svc *service.Service, student, subject string) {
	existed, err := svc.DeleteTextbook(student, subject)
	if err != nil {
		log.Fatal().Err(err).Msg("Delete failed")
	}
	if !existed {
		log.Info().Msg("No textbook to delete")
		return
	}
	log.Info().Str("subject", subject).Msg("Textbook deleted")
}

func showStats(svc *service.Service, student, subject string) {
	fmt.Printf("student=%s subject=%s\n", student, subject)
	helper.PrettyPrint(svc.TextbookStats(student, subject))
}

func showChallenge(ctx context.Context, svc *service.Service, subject string, grade int) {
	helper.PrettyPrint(svc.GenerateChallenge(ctx, subject, grade))
}

func renderSheet(ctx context.Context, svc *service.Service, concept, subject string, grade int) {
	html, err := svc.StudySheet(ctx, concept, subject, grade)
	if err != nil {
		log.Fatal().Err(err).Msg("Study sheet failed")
	}
	fmt.Println(string(html))
}

func ask(ctx context.Context, svc *service.Service, query string, profile models.StudentProfile, stream bool) {
	if !stream {
		answer, err := svc.RunSingleResponse(ctx, query, profile)
		if err != nil {
			log.Fatal().Err(err).Msg("Query failed")
		}
		fmt.Println(answer)
		return
	}

	for event := range svc.RunPipeline(ctx, query, profile) {
		if event.Final {
			fmt.Println()
			fmt.Println(event.Text)
			continue
		}
		log.Info().
			Str("stage", event.Stage).
			Str("status", event.Status).
			Msg(event.Text)
	}
}

func profile(svc *service.Service, student, name, subject string, grade int) models.StudentProfile {
	return models.StudentProfile{
		StudentID:        student,
		Name:             name,
		Grade:            grade,
		Subject:          subject,
		TextbookUploaded: svc.TextbookStats(student, subject).Exists,
	}
}
