package main

import (
	"log"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/router"
	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/delivery"
	"support-inbox-backend/internal/env"
	internaljwt "support-inbox-backend/internal/jwt"
	"support-inbox-backend/internal/queue"
	inboxservice "support-inbox-backend/internal/service/inbox"
	"support-inbox-backend/internal/session"

	"github.com/go-redis/redis/v8"
)

func main() {
	env.MustValidate()
	internaljwt.SetRoleSecret(internaljwt.RoleUser, env.MustGet(env.UserSecretKey))
	inboxservice.SetVisitorTokenSecret(env.MustGet(env.UserSecretKey))

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	sessionRedis := redis.NewClient(&redis.Options{
		Addr:     env.Get(env.SessionRedisURL),
		Password: env.Get(env.SessionRedisPass),
		DB:       0,
	})
	chatRedis := redis.NewClient(&redis.Options{
		Addr:     env.Get(env.ChatRedisURL),
		Password: env.Get(env.ChatRedisPass),
		DB:       0,
	})

	sessions := session.NewRegistry(session.NewRedisStore(sessionRedis), 0)
	deliveryRouter := delivery.NewRouter(delivery.NewRedisBus(chatRedis), 0)

	server := api.NewAPIServer(
		":8080",
		queueManager,
		db,
		sessions,
		deliveryRouter,
		nil,
		router.UtilsRoutes("/api/v1"),
		router.InboxPublicRoutes("/api/v1/public"),
		router.InboxAgentRoutes("/api/v1"),
	)

	server.Run()
}
