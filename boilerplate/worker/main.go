package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"reviewhooks/boilerplate/worker/controllers"
	"reviewhooks/pkg/worker"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	flag.Parse()

	log.SetPrefix("reviewhooks/worker-boilerplate ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := worker.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Worker.Topics) == 0 {
		log.Fatalf("no topics configured; set worker.topics to the installation topics to consume")
	}

	sub, err := worker.BuildSubscriber(cfg.Watermill)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Printf("subscriber close: %v", err)
		}
	}()

	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithSettings(cfg.Worker),
		worker.WithRetry(worker.AckPermanent{}),
		worker.WithMiddleware(worker.Recover()),
		worker.WithListener(worker.Listener{
			OnError: func(_ context.Context, evt *worker.Event, err error) {
				if evt == nil {
					log.Printf("undecodable message: %v", err)
					return
				}
				log.Printf("handler failed type=%s topic=%s: %v", evt.Type, evt.Topic, err)
			},
		}),
	)

	wk.HandleType("bb_pullrequest_created", controllers.HandlePullRequestCreated)
	wk.HandleType("bb_pullrequest_updated", controllers.HandlePullRequestUpdated)
	wk.HandleType("bb_pullrequest_approved", controllers.HandlePullRequestApproved)
	wk.HandleType("bb_install_callback", controllers.HandleInstallCallback)

	if err := wk.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
