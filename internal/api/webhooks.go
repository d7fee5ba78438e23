package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/annel0/blastguard/internal/config"
	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/eventbus"
	"github.com/annel0/blastguard/internal/logging"
)

// OutboundWebhook исходящий webhook для событий прочности
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // События, на которые подписан
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	Delivered    int        `json:"delivered"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent тело запроса к webhook'у
type OutboundWebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	ServerID  string          `json:"server_id"`
	Data      json.RawMessage `json:"data"`
}

// SignatureHeader заголовок с HMAC-SHA256 подписью тела
const SignatureHeader = "X-Blastguard-Signature"

// OutboundWebhookManager рассылает события шины подписанным webhook'ам
type OutboundWebhookManager struct {
	webhooks   map[uint64]*OutboundWebhook
	eventQueue chan OutboundWebhookEvent
	mu         sync.RWMutex
	nextID     uint64
	httpClient *http.Client
	serverID   string
	retryDelay time.Duration
	logger     *logging.Logger

	queueMu  sync.RWMutex
	closed   bool
	workerWG sync.WaitGroup
	sendWG   sync.WaitGroup
}

// NewOutboundWebhookManager создает менеджер и запускает воркер очереди
func NewOutboundWebhookManager(serverID string) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:   make(map[uint64]*OutboundWebhook),
		eventQueue: make(chan OutboundWebhookEvent, 1000),
		nextID:     1,
		serverID:   serverID,
		retryDelay: time.Second,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.GetServerLogger(),
	}

	manager.workerWG.Add(1)
	go manager.eventWorker()
	return manager
}

// LoadConfig добавляет webhook'и из конфигурации; записи без url пропускаются
func (owm *OutboundWebhookManager) LoadConfig(hooks []config.WebhookConfig) int {
	added := 0
	for _, h := range hooks {
		if h.URL == "" {
			continue
		}
		owm.AddWebhook(OutboundWebhook{
			Name:       h.Name,
			URL:        h.URL,
			Secret:     h.Secret,
			Events:     h.Events,
			Timeout:    h.TimeoutSec,
			RetryCount: h.RetryCount,
		})
		added++
	}
	return added
}

// AddWebhook добавляет новый webhook
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}
	if len(webhook.Events) == 0 {
		webhook.Events = []string{"*"}
	}

	owm.webhooks[webhook.ID] = &webhook
	out := webhook
	return &out
}

// GetWebhooks возвращает копии всех webhook'ов, упорядоченные по ID
func (owm *OutboundWebhookManager) GetWebhooks() []OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, *webhook)
	}
	sort.Slice(webhooks, func(i, j int) bool { return webhooks[i].ID < webhooks[j].ID })
	return webhooks
}

// GetWebhook возвращает копию webhook'а по ID
func (owm *OutboundWebhookManager) GetWebhook(id uint64) (OutboundWebhook, bool) {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return OutboundWebhook{}, false
	}
	return *webhook, true
}

// DeleteWebhook удаляет webhook
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	if _, exists := owm.webhooks[id]; !exists {
		return false
	}
	delete(owm.webhooks, id)
	return true
}

// Attach подписывает менеджер на все события шины
func (owm *OutboundWebhookManager) Attach(ctx context.Context, bus eventbus.EventBus) (eventbus.Subscription, error) {
	return bus.Subscribe(ctx, eventbus.Filter{}, func(_ context.Context, env *eventbus.Envelope) {
		owm.Enqueue(env)
	})
}

// Enqueue ставит конверт шины в очередь отправки. Не блокирует.
func (owm *OutboundWebhookManager) Enqueue(env *eventbus.Envelope) {
	event := OutboundWebhookEvent{
		ID:        env.ID,
		EventType: env.EventType,
		Timestamp: env.Timestamp.Unix(),
		ServerID:  owm.serverID,
		Data:      json.RawMessage(env.Payload),
	}
	if len(event.Data) == 0 {
		event.Data = json.RawMessage("null")
	}

	owm.queueMu.RLock()
	defer owm.queueMu.RUnlock()
	if owm.closed {
		return
	}
	select {
	case owm.eventQueue <- event:
	default:
		owm.logger.Warn("⚠️  Очередь webhook'ов переполнена, событие %s пропущено", event.EventType)
	}
}

// Close дожидается отправки событий из очереди
func (owm *OutboundWebhookManager) Close() {
	owm.queueMu.Lock()
	if owm.closed {
		owm.queueMu.Unlock()
		return
	}
	owm.closed = true
	close(owm.eventQueue)
	owm.queueMu.Unlock()

	owm.workerWG.Wait()
	owm.sendWG.Wait()
}

func (owm *OutboundWebhookManager) eventWorker() {
	defer owm.workerWG.Done()
	for event := range owm.eventQueue {
		owm.processEvent(event)
	}
}

func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	var targets []OutboundWebhook
	for _, webhook := range owm.webhooks {
		if webhook.Active && isSubscribedToEvent(webhook, event.EventType) {
			targets = append(targets, *webhook)
		}
	}
	owm.mu.RUnlock()

	for _, webhook := range targets {
		owm.sendWG.Add(1)
		go func(wh OutboundWebhook) {
			defer owm.sendWG.Done()
			owm.sendToWebhook(wh, event)
		}(webhook)
	}
}

func isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие с повторами и обновляет счётчики webhook'а
func (owm *OutboundWebhookManager) sendToWebhook(webhook OutboundWebhook, event OutboundWebhookEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		owm.logger.Error("❌ Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * owm.retryDelay)
		}
		err := owm.post(webhook, event, body)
		if err == nil {
			success = true
			break
		}
		owm.logger.Warn("⚠️  Попытка %d/%d для webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
	}

	owm.mu.Lock()
	if stored, ok := owm.webhooks[webhook.ID]; ok {
		now := time.Now()
		stored.LastUsed = &now
		if success {
			stored.Delivered++
		} else {
			stored.FailureCount++
		}
	}
	owm.mu.Unlock()
}

func (owm *OutboundWebhookManager) post(webhook OutboundWebhook, event OutboundWebhookEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "blastguard/1.0")
	req.Header.Set("X-Event-Type", event.EventType)
	req.Header.Set("X-Server-ID", event.ServerID)
	if webhook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, webhook.Secret))
	}

	resp, err := owm.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("статус %d", resp.StatusCode)
	}
	return nil
}

// Sign возвращает HMAC-SHA256 подпись тела в формате sha256=<hex>
func Sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetEventTypes возвращает типы событий, на которые можно подписаться
func GetEventTypes() []string {
	return []string{
		string(durability.EventDamaged),
		string(durability.EventDestroyed),
		string(durability.EventReset),
		"*",
	}
}
