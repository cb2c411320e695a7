// Package oi polls the broker's quote REST endpoint for open interest and
// writes it into the current candle of each subscribed derivative. The feed
// only carries OI on some quote frames, so the poller keeps the figure
// fresh between them.
package oi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Vishtheendodoc/orderflow-new/internal/app"
)

var errRateLimited = errors.New("oi: rate limited")

// Config configures the poller.
type Config struct {
	BaseURL  string // e.g. https://api.dhan.co
	ClientID string
	Interval time.Duration
}

// Poller drives the periodic open-interest refresh.
type Poller struct {
	cfg     Config
	state   *app.State
	httpc   *http.Client
	limiter *rate.Limiter

	// Metrics hooks (optional).
	OnUpdate func()
	OnError  func()
}

// NewPoller creates the OI poller.
func NewPoller(cfg Config, state *app.State) *Poller {
	return &Poller{
		cfg:     cfg,
		state:   state,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Run polls on the configured interval until ctx is cancelled. A 429 from
// upstream aborts the cycle and skips the next one entirely (a cool-down of
// one full interval).
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.ClientID == "" || p.state.Token() == "" {
		log.Println("[oi] no credentials, poller disabled")
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	coolDown := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if coolDown {
				coolDown = false
				continue
			}
			if err := p.pollOnce(ctx); errors.Is(err, errRateLimited) {
				log.Printf("[oi] upstream rate limit hit, cooling down %s", p.cfg.Interval)
				coolDown = true
			}
		}
	}
}

// pollOnce runs one refresh cycle: group instruments by segment, fetch each
// group, fan updates into the engines.
func (p *Poller) pollOnce(ctx context.Context) error {
	groups := make(map[string][]int64)
	for _, in := range p.state.Instruments() {
		id, err := strconv.ParseInt(in.SecurityID, 10, 64)
		if err != nil {
			continue
		}
		seg := normalizeSegment(in.ExchangeSegment)
		groups[seg] = append(groups[seg], id)
	}

	for seg, ids := range groups {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := p.fetchSegment(ctx, seg, ids); err != nil {
			if errors.Is(err, errRateLimited) {
				return err
			}
			log.Printf("[oi] segment %s: %v", seg, err)
			if p.OnError != nil {
				p.OnError()
			}
		}
	}
	return nil
}

// quoteResponse is the subset of the quote API payload the poller reads.
type quoteResponse struct {
	Data map[string]map[string]struct {
		OI float64 `json:"oi"`
	} `json:"data"`
}

// fetchSegment POSTs one segment's id list and applies the returned OI.
func (p *Poller) fetchSegment(ctx context.Context, segment string, ids []int64) error {
	body, err := json.Marshal(map[string][]int64{segment: ids})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/marketfeed/quote", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("access-token", p.state.Token())
	req.Header.Set("client-id", p.cfg.ClientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	p.apply(parsed)
	return nil
}

// apply writes every positive OI figure into its engine and gates a
// broadcast for the updated symbol. Instruments missing from the response
// keep their previous OI; there is no staleness expiry.
func (p *Poller) apply(parsed quoteResponse) {
	for _, bySecID := range parsed.Data {
		for idStr, q := range bySecID {
			if q.OI <= 0 {
				continue
			}
			id, err := strconv.ParseUint(idStr, 10, 32)
			if err != nil {
				continue
			}
			eng, ok := p.state.EngineBySecurityID(uint32(id))
			if !ok {
				continue
			}
			eng.UpdateOI(q.OI)
			if p.OnUpdate != nil {
				p.OnUpdate()
			}
			p.state.GateBroadcast(eng.Symbol(), eng)
		}
	}
}

// normalizeSegment maps the websocket segment name to its REST variant.
func normalizeSegment(segment string) string {
	if segment == "NSE_FO" {
		return "NSE_FNO"
	}
	return segment
}
