package main

import (
	"encoding/json"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"filtersense/internal/building"
	"filtersense/internal/config"
	"filtersense/internal/synth"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	params := building.Derive(cfg)
	scenario := synth.Scenario{
		Start:            time.Now(),
		Interval:         5 * time.Minute,
		Samples:          288, // one simulated day
		Pattern:          synth.PatternSinusoidal,
		OutdoorBase:      35,
		OutdoorAmplitude: 15,
		TrueEfficiency:   0.8,
		NoiseStd:         1.0,
		Seed:             time.Now().UnixNano(),
	}

	for _, m := range synth.Generate(params, scenario) {
		payload, _ := json.Marshal(m)
		token := client.Publish(cfg.MQTTTopic, 0, false, payload)
		token.Wait()
		time.Sleep(500 * time.Millisecond)
	}
	log.Info().Msg("simulation done")
}
