package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/blastguard/internal/durability"
	"github.com/annel0/blastguard/internal/transport"
	"github.com/annel0/blastguard/internal/vec"
	"github.com/annel0/blastguard/internal/world"
	"github.com/annel0/blastguard/internal/world/block"
	"github.com/google/uuid"
)

// blockList значение флага -block: MATERIAL@x,y,z, флаг повторяется
type blockList []world.PlacedBlock

func (b *blockList) String() string {
	parts := make([]string, 0, len(*b))
	for _, pb := range *b {
		parts = append(parts, fmt.Sprintf("%s@%s", pb.State.Material, pb.Pos))
	}
	return strings.Join(parts, " ")
}

func (b *blockList) Set(s string) error {
	pb, err := parseBlock(s)
	if err != nil {
		return err
	}
	*b = append(*b, pb)
	return nil
}

func parseBlock(s string) (world.PlacedBlock, error) {
	name, coords, ok := strings.Cut(s, "@")
	if !ok {
		return world.PlacedBlock{}, fmt.Errorf("ожидается MATERIAL@x,y,z, получено %q", s)
	}
	m, err := block.Parse(name)
	if err != nil {
		return world.PlacedBlock{}, err
	}
	xyz := strings.Split(coords, ",")
	if len(xyz) != 3 {
		return world.PlacedBlock{}, fmt.Errorf("ожидается три координаты в %q", coords)
	}
	var pos [3]int
	for i, c := range xyz {
		v, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return world.PlacedBlock{}, fmt.Errorf("координата %q: %w", c, err)
		}
		pos[i] = v
	}
	return world.PlacedBlock{
		Pos:   vec.Vec3{X: pos[0], Y: pos[1], Z: pos[2]},
		State: block.State{Material: m},
	}, nil
}

func main() {
	var blocks blockList
	var (
		natsURL   = flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL")
		subject   = flag.String("subject", "blastguard.explode", "Subject запросов взрыва")
		httpURL   = flag.String("http", "", "Адрес REST API (например http://localhost:8088); если задан, NATS не используется")
		worldName = flag.String("world", "world", "Имя мира")
		x         = flag.Float64("x", 0.5, "X центра взрыва")
		y         = flag.Float64("y", 64.5, "Y центра взрыва")
		z         = flag.Float64("z", 0.5, "Z центра взрыва")
		entity    = flag.String("entity", "tnt", "Сущность: tnt, cannon, creeper, ghast, wither ...")
		cancelled = flag.Bool("cancelled", false, "Событие уже отменено другим плагином")
		file      = flag.String("blocks", "", "JSON-файл со списком блоков [{pos, state}]")
		timeout   = flag.Duration("timeout", 3*time.Second, "Таймаут запроса")
	)
	flag.Var(&blocks, "block", "Блок MATERIAL@x,y,z (можно повторять)")
	flag.Parse()

	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("❌ Чтение %s: %v", *file, err)
		}
		var fromFile []world.PlacedBlock
		if err := json.Unmarshal(data, &fromFile); err != nil {
			log.Fatalf("❌ Разбор %s: %v", *file, err)
		}
		blocks = append(blocks, fromFile...)
	}

	req := transport.ExplodeRequest{
		Event: durability.ExplosionEvent{
			ID:        uuid.NewString(),
			World:     *worldName,
			Origin:    vec.Vec3Float{X: *x, Y: *y, Z: *z},
			Entity:    durability.ParseEntityKind(*entity),
			Cancelled: *cancelled,
		},
		Blocks: blocks,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		outcome *durability.Outcome
		node    string
		err     error
	)
	if *httpURL != "" {
		outcome, node, err = explodeHTTP(ctx, *httpURL, req)
	} else {
		outcome, node, err = explodeNATS(ctx, *natsURL, *subject, *timeout, req)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Fprintf(os.Stderr, "💥 %s: result=%s destroyed=%d damaged=%d skipped=%d denied=%d (узел %s)\n",
		req.Event.ID, outcome.Result, outcome.Destroyed, outcome.Damaged, outcome.Skipped, outcome.Denied, node)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func explodeNATS(ctx context.Context, url, subject string, timeout time.Duration, req transport.ExplodeRequest) (*durability.Outcome, string, error) {
	client, err := transport.Dial(url, subject, timeout)
	if err != nil {
		return nil, "", err
	}
	defer client.Close()
	return client.Explode(ctx, req)
}

func explodeHTTP(ctx context.Context, base string, req transport.ExplodeRequest) (*durability.Outcome, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/api/explode", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}

	var reply transport.ExplodeResponse
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, "", err
	}
	if reply.Error != "" {
		return nil, reply.Node, fmt.Errorf("%w: %s", transport.ErrRemote, reply.Error)
	}
	if reply.Outcome == nil {
		return nil, reply.Node, fmt.Errorf("%w: empty outcome", transport.ErrRemote)
	}
	return reply.Outcome, reply.Node, nil
}
