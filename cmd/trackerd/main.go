package main

import (
	"errors"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"filtersense/internal/calibrate"
	"filtersense/internal/config"
	httpHandlers "filtersense/internal/http"
	"filtersense/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	svcs := service.New(cfg, log.Logger)

	if cfg.MQTTBroker != "" {
		opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker)
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Fatal().Err(token.Error()).Msg("mqtt connect")
		}
		defer client.Disconnect(250)

		handler := func(_ mqtt.Client, msg mqtt.Message) {
			if err := svcs.Tracking.FromMQTT(msg.Topic(), msg.Payload()); err != nil {
				log.Error().Err(err).Msg("ingest failed")
			}
		}
		if token := client.Subscribe(cfg.MQTTTopic, 0, handler); token.Wait() && token.Error() != nil {
			log.Fatal().Err(token.Error()).Msg("subscribe failed")
		}
		log.Info().Str("broker", cfg.MQTTBroker).Str("topic", cfg.MQTTTopic).Msg("mqtt ingest running")
	}

	go func() {
		for range time.Tick(time.Hour) {
			res, err := svcs.Calibration.Run()
			if errors.Is(err, calibrate.ErrInsufficientData) {
				continue
			}
			if err != nil {
				log.Error().Err(err).Msg("scheduled calibration failed")
				continue
			}
			log.Info().Float64("efficiency", res.Efficiency).Msg("scheduled calibration complete")
		}
	}()

	app := fiber.New()
	httpHandlers.Register(app, svcs)

	log.Info().Str("addr", cfg.APIAddr).Msg("api listening")
	log.Fatal().Err(app.Listen(cfg.APIAddr)).Msg("server exit")
}
