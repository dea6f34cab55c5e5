package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/result-ingest/publisher"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

// WSClient representa um cliente WebSocket responsável por consumir o feed de
// partidas (agenda, odds e resultados finais) de um fornecedor e publicar os
// eventos recebidos em um tópico Kafka.
type WSClient struct {
	URL       string                    // URL do endpoint WebSocket do fornecedor
	Log       *zap.Logger               // Logger estruturado
	Publisher *publisher.KafkaPublisher // Publisher Kafka para envio dos eventos
}

// Start inicia o loop de conexão e escuta do WebSocket.
// Em caso de desconexão, tenta reconectar automaticamente com backoff.
func (c *WSClient) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Log.Info("context canceled, stopping WS client")
			return
		default:
			if err := c.connectAndListen(ctx); err != nil {
				c.Log.Warn("connection closed", zap.Error(err))
				time.Sleep(3 * time.Second) // Aguarda antes de tentar reconectar
			}
		}
	}
}

// connectAndListen estabelece a conexão WebSocket e processa mensagens recebidas.
// Cada mensagem válida é desserializada e publicada no Kafka; mensagens sem
// matchId ou com status desconhecido são descartadas com log.
func (c *WSClient) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.Log.Info("connected to feed WS", zap.String("url", c.URL))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) {
				return nil
			}
			c.Log.Error("read message failed", zap.Error(err))
			return err
		}

		var mr events.MatchResult
		if err := json.Unmarshal(message, &mr); err != nil {
			c.Log.Warn("invalid message", zap.Error(err))
			continue
		}
		if mr.MatchID == "" || !validStatus(mr.Status) {
			c.Log.Warn("discarding malformed match event",
				zap.String("match_id", mr.MatchID), zap.String("status", mr.Status))
			continue
		}

		// Publica o evento recebido no Kafka
		if err := c.Publisher.Publish(ctx, mr); err != nil {
			c.Log.Error("failed to publish to Kafka", zap.Error(err))
		}
	}
}

func validStatus(s string) bool {
	switch s {
	case events.MatchScheduled, events.MatchFinished, events.MatchVoided:
		return true
	}
	return false
}
