package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fanarena/fanbet-core/internal/shared/config"
	"github.com/fanarena/fanbet-core/internal/shared/logger"
	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	// Catálogo fixo de partidas simuladas
	matchCatalog = []simMatch{
		{id: "MATCH_001", home: "Flamengo", away: "Palmeiras"},
		{id: "MATCH_002", home: "Grêmio", away: "Internacional"},
		{id: "MATCH_003", home: "Corinthians", away: "Santos"},
		{id: "MATCH_004", home: "São Paulo", away: "Vasco"},
	}

	// Métricas Prometheus para monitoramento de conexões e mensagens
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_ws_connections",
		Help: "Clientes WebSocket conectados",
	})
	wsMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_ws_messages_sent_total",
		Help: "Total de mensagens WS enviadas",
	})
	matchesFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_matches_finished_total",
		Help: "Partidas encerradas pelo simulador",
	})
)

// simMatch é o estado de uma partida dentro do simulador
type simMatch struct {
	id, home, away string
	kickoff        time.Time
	odds           map[string]string
	voided         bool // decidido no sorteio inicial
	result         *events.MatchResultPayload
	done           bool
}

// Representa uma conexão de cliente WebSocket
// id: identificador único da conexão
// conn: ponteiro para a conexão WebSocket
type clientConn struct {
	id   string
	conn *websocket.Conn
}

// Estrutura responsável por gerenciar os clientes conectados via WebSocket
// e realizar broadcast de mensagens para todos eles.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger
}

// Cria uma nova instância de hub para gerenciar conexões
func newHub(log *zap.Logger) *hub {
	return &hub{
		clients: make(map[string]*clientConn),
		log:     log,
	}
}

// Adiciona um novo cliente ao hub e incrementa a métrica de conexões
func (h *hub) add(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	wsConnections.Inc()
	h.log.Info("ws client connected", zap.String("client_id", c.id))
}

// Remove um cliente do hub e decrementa a métrica de conexões
func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		wsConnections.Dec()
		h.log.Info("ws client disconnected", zap.String("client_id", id))
	}
}

// Envia uma mensagem para todos os clientes conectados
func (h *hub) broadcast(v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, _ := json.Marshal(v)
	for id, c := range h.clients {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
		} else {
			wsMessagesSent.Inc()
		}
	}
}

// gera número aleatório entre min e max
func rnd(min, max float64) float64 {
	return (rand.Float64() * (max - min)) + min
}

func oddStr(min, max float64) string {
	return fmt.Sprintf("%.2f", rnd(min, max))
}

// randomOdds monta o quadro de odds da partida nos mercados suportados
func randomOdds() map[string]string {
	return map[string]string{
		"home":            oddStr(1.40, 3.50),
		"draw":            oddStr(2.50, 4.50),
		"away":            oddStr(2.00, 5.00),
		"total_over_2.5":  oddStr(1.60, 2.40),
		"total_under_2.5": oddStr(1.50, 2.30),
		"btts_yes":        oddStr(1.60, 2.20),
		"btts_no":         oddStr(1.60, 2.20),
		"dnb_home":        oddStr(1.20, 2.50),
		"dnb_away":        oddStr(1.50, 3.50),
		"dc_1x":           oddStr(1.10, 1.80),
		"dc_x2":           oddStr(1.20, 2.00),
		"total_even":      oddStr(1.80, 2.00),
		"total_odd":       oddStr(1.80, 2.00),
	}
}

// randomResult sorteia o placar final e os agregados da partida
func randomResult(home, away string) *events.MatchResultPayload {
	hs := rand.Intn(5)
	as := rand.Intn(4)

	outcome := "draw"
	if hs > as {
		outcome = "home"
	} else if as > hs {
		outcome = "away"
	}

	firstGoal := "none"
	if hs+as > 0 {
		firstGoal = "away"
		if hs > 0 && (as == 0 || rand.Intn(2) == 0) {
			firstGoal = "home"
		}
	}

	corners := 5 + rand.Intn(10)
	cards := 1 + rand.Intn(8)
	penalty := rand.Intn(100) < 20

	return &events.MatchResultPayload{
		Outcome:      outcome,
		HomeScore:    hs,
		AwayScore:    as,
		TotalCorners: &corners,
		TotalCards:   &cards,
		HasPenalty:   &penalty,
		FirstGoal:    firstGoal,
	}
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	rand.Seed(time.Now().UnixNano())

	prometheus.MustRegister(wsConnections, wsMessagesSent, matchesFinished)

	h := newHub(log)

	// Sorteio inicial: odds, kickoff escalonado e uma pequena chance de anulação
	now := time.Now().UTC()
	matches := make([]*simMatch, len(matchCatalog))
	for i := range matchCatalog {
		m := matchCatalog[i]
		m.kickoff = now.Add(time.Duration(2+i) * time.Minute)
		m.odds = randomOdds()
		m.voided = rand.Intn(100) < 10
		matches[i] = &m
	}

	// Loop de emissão: enquanto a partida não começa, reenvia a agenda com odds;
	// passado o kickoff + duração simulada, envia o evento final uma única vez
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		const matchDuration = time.Minute
		for range ticker.C {
			ts := time.Now().UTC()
			for _, m := range matches {
				switch {
				case ts.Before(m.kickoff):
					h.broadcast(events.MatchResult{
						MatchID:     m.id,
						Status:      events.MatchScheduled,
						HomeTeam:    m.home,
						AwayTeam:    m.away,
						KickoffUnix: m.kickoff.Unix(),
						Odds:        m.odds,
						Source:      cfg.ServiceName,
						Ts:          ts,
					})
				case !m.done && ts.After(m.kickoff.Add(matchDuration)):
					m.done = true
					matchesFinished.Inc()
					ev := events.MatchResult{
						MatchID:     m.id,
						Status:      events.MatchFinished,
						HomeTeam:    m.home,
						AwayTeam:    m.away,
						KickoffUnix: m.kickoff.Unix(),
						Source:      cfg.ServiceName,
						Ts:          ts,
					}
					if m.voided {
						ev.Status = events.MatchVoided
					} else {
						m.result = randomResult(m.home, m.away)
						ev.Result = m.result
					}
					h.broadcast(ev)
					log.Info("match final event sent",
						zap.String("matchId", m.id), zap.String("status", ev.Status))
				}
			}
		}
	}()

	// ==== MUX PÚBLICO (HTTP principal): /ws
	appMux := http.NewServeMux()

	appMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		id := fmt.Sprintf("%d", time.Now().UnixNano())
		c := &clientConn{id: id, conn: conn}
		h.add(c)

		// Goroutine para manter a conexão viva e remover cliente ao desconectar
		go func() {
			defer func() {
				h.remove(id)
				_ = conn.Close()
			}()
			_ = conn.SetReadDeadline(time.Time{})
			for {
				// Lê e descarta mensagens do cliente para manter o socket limpo
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	// ==== MUX DE MÉTRICAS (/healthz, /metrics)
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsMux.Handle("/metrics", promhttp.Handler())

	// Servidor de métricas em goroutine
	go func() {
		metricsAddr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("feed simulator (metrics) running",
			zap.String("addr", metricsAddr),
			zap.String("paths", "/healthz,/metrics"),
		)
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// Servidor público (WS)
	publicAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("feed simulator (public) running",
		zap.String("addr", publicAddr),
		zap.String("paths", "/ws"),
	)
	if err := http.ListenAndServe(publicAddr, appMux); err != nil {
		log.Fatal("public server error", zap.Error(err))
	}
}
