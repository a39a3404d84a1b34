// Command eventctl signs relay tokens and publishes test events into the events exchange.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"

	"eventsWs/internal/config"
	"eventsWs/internal/modules/realtime/domain"
	"eventsWs/internal/platform/broker"
	"eventsWs/internal/shared/auth"
	"eventsWs/internal/shared/logging"
)

const usage = `usage:
  eventctl sign -value VALUE
  eventctl publish -key ROUTING_KEY -body JSON`

func main() {
	if err := godotenv.Overload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, ".env load warning: %v\n", err)
	}
	slog.SetDefault(logging.New(os.Stderr, logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"}))

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	switch args[0] {
	case "sign":
		return runSign(cfg, args[1:], out)
	case "publish":
		return runPublish(cfg, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func runSign(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	value := fs.String("value", "", "value to sign, usually the user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *value == "" {
		return errors.New("sign: -value is required")
	}
	token := auth.NewSigner(cfg.Signing.Salt, cfg.Signing.Secret).Sign(*value)
	_, err := fmt.Fprintln(out, token)
	return err
}

func runPublish(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	key := fs.String("key", "", "routing key")
	body := fs.String("body", "{}", "JSON object to publish")
	timeout := fs.Duration("timeout", 5*time.Second, "publish timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("publish: -key is required")
	}
	if err := domain.ValidateRoutingKey(*key); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if !gjson.Valid(*body) || !gjson.Parse(*body).IsObject() {
		return errors.New("publish: -body must be a JSON object")
	}

	conn, err := broker.Dial(cfg.AMQP.DialURL(), "eventctl")
	if err != nil {
		return err
	}
	defer conn.Close()
	publisher := broker.NewPublisher(conn)
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := publisher.Publish(ctx, *key, []byte(*body)); err != nil {
		return err
	}
	slog.Info("event published", slog.String("routingKey", *key), slog.Int("bytes", len(*body)))
	return nil
}
