package main

import (
	"context"
	"log"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/router"
	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/delivery"
	"support-inbox-backend/internal/env"
	internaljwt "support-inbox-backend/internal/jwt"
	"support-inbox-backend/internal/queue"
	inboxservice "support-inbox-backend/internal/service/inbox"
	"support-inbox-backend/internal/service/membership"
	"support-inbox-backend/internal/session"
	"support-inbox-backend/internal/websocket"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func main() {
	env.MustValidate()
	internaljwt.SetRoleSecret(internaljwt.RoleUser, env.MustGet(env.UserSecretKey))
	inboxservice.SetVisitorTokenSecret(env.MustGet(env.UserSecretKey))

	// Each instance owns a pub/sub channel named after its ID. A stable ID
	// from the environment survives restarts; a random one works too since
	// sessions re-register on connect.
	instanceID := env.GetOrDefault(env.InstanceID, uuid.NewString())

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
	bus := delivery.NewRedisBus(chatRedis)
	deliveryRouter := delivery.NewRouter(bus, 0)

	hub := websocket.NewHub()
	inboxSvc := inboxservice.New(db, sessions, deliveryRouter)
	handler := websocket.NewHandler(hub, sessions, inboxSvc, membership.New(db), instanceID)

	subscriber := delivery.NewSubscriber(bus, instanceID, hub)
	go func() {
		if err := subscriber.Run(context.Background()); err != nil {
			log.Fatalf("delivery subscriber stopped: %v", err)
		}
	}()

	server := api.NewAPIServer(
		":8081",
		queueManager,
		db,
		sessions,
		deliveryRouter,
		handler,
		router.UtilsRoutes("/api/ws/v1"),
		router.InboxWebsocketRoutes("/api/ws/v1"),
	)

	server.Run()
}
