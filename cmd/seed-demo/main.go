package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/probatio/probatio-backend/internal/config"
	"github.com/probatio/probatio-backend/internal/database"
	"github.com/probatio/probatio-backend/internal/logger"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/repository"
	"github.com/probatio/probatio-backend/internal/service"
)

// Seeds one teacher, a handful of students, and a ready-to-take geography
// quiz, so a fresh checkout has something to log in to.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	userRepo := repository.NewUserRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	authService := service.NewAuthService(cfg, userRepo)
	userService := service.NewUserService(userRepo, authService)
	testService := service.NewTestService(testRepo, questionRepo, rdb, log)

	fmt.Println("=== Seeding Demo Data ===")

	teacher := ensureUser(ctx, userRepo, userService, "teacher@probatio.dev", "teachme", "Dana Whitfield", model.RoleTeacher)
	for i, name := range []string{"Alice Moreau", "Ben Okafor", "Carla Diaz"} {
		email := fmt.Sprintf("student%d@probatio.dev", i+1)
		ensureUser(ctx, userRepo, userService, email, "testme", name, model.RoleStudent)
	}

	duration := 15
	maxAttempts := 2
	req := &model.CreateTestRequest{
		Title:           "Geography Basics",
		Subject:         "Geography",
		Difficulty:      string(model.DifficultyEasy),
		DurationMinutes: &duration,
		MaxAttempts:     &maxAttempts,
		Questions: []model.CreateQuestionRequest{
			{
				Type:          string(model.QuestionTypeMultipleChoice),
				Prompt:        "Which continent is the Sahara in?",
				Options:       []string{"Asia", "Africa", "Australia", "Europe"},
				CorrectAnswer: "Africa",
				Points:        1,
			},
			{
				Type:          string(model.QuestionTypeTrueFalse),
				Prompt:        "The Nile flows north.",
				CorrectAnswer: model.AnswerTrue,
				Points:        1,
			},
			{
				Type:          string(model.QuestionTypeShortAnswer),
				Prompt:        "What is the capital of France?",
				CorrectAnswer: "Paris",
				Points:        1,
			},
		},
	}

	test, err := testService.Create(ctx, teacher.ID, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo test")
	}
	if _, err := testService.SetActive(ctx, test.ID, teacher.ID, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to activate demo test")
	}

	fmt.Printf("Created and activated test %q (%s)\n", test.Title, test.ID)
	fmt.Println("Done.")
}

func ensureUser(ctx context.Context, repo *repository.UserRepository, users *service.UserService, email, password, name string, role model.Role) *model.User {
	existing, err := repo.GetByEmail(ctx, email)
	if err == nil {
		fmt.Printf("User %s already exists, skipping\n", email)
		return existing
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		panic(err)
	}

	user, err := users.Create(ctx, email, password, name, role)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Created %s %s\n", role, email)
	return user
}
