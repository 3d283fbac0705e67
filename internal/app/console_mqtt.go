// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/lora_tracker/internal/lan"
	"github.com/relabs-tech/lora_tracker/internal/mirror"
)

// RunConsoleMQTT prints every position mirrored under prefix until ctx is
// done.
func RunConsoleMQTT(ctx context.Context, broker, prefix string, out io.Writer, log *zap.Logger) error {
	client, err := mirror.Connect(broker, "tracker-console-"+uuid.NewString(), log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	topic := prefix + "/#"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		line, err := formatPosition(msg.Topic(), msg.Payload())
		if err != nil {
			log.Warn("unreadable position", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		fmt.Fprintln(out, line)
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Info("subscribed", zap.String("topic", topic))

	<-ctx.Done()
	log.Info("console shutting down")
	return nil
}

func formatPosition(topic string, payload []byte) (string, error) {
	p, err := lan.DecodePosition(payload)
	if err != nil {
		return "", err
	}
	acc := " "
	if p.IsAccurate {
		acc = "*"
	}
	return fmt.Sprintf("[POS ] %-4s lat=%11.6f long=%11.6f %s  (%s)",
		p.Callsign, float64(p.Lat)/1e6, float64(p.Long)/1e6, acc, topic), nil
}
