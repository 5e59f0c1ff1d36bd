package pactman

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TEENet-io/bonder-relay/agreement"
	"github.com/TEENet-io/bonder-relay/common"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

const (
	ProposeEventName = "PROPOSE"

	DefaultReconnectDelay = 5 * time.Second

	headerEncoding = "application/json;blockheader-encoding=object"
)

var ErrUnknownChain = errors.New("chain not in cut")

type cutHash struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

type cut struct {
	Hashes map[string]cutHash `json:"hashes"`
}

type blockHeader struct {
	Height      uint64 `json:"height"`
	Hash        string `json:"hash"`
	ChainID     int    `json:"chainId"`
	Parent      string `json:"parent"`
	PayloadHash string `json:"payloadHash"`
}

type branchPage struct {
	Items []*blockHeader `json:"items"`
	Limit int            `json:"limit"`
	Next  *string        `json:"next"`
}

type branchBounds struct {
	Lower []string `json:"lower"`
	Upper []string `json:"upper"`
}

type payloadOutputs struct {
	Transactions [][2]string `json:"transactions"`
}

type headerUpdate struct {
	Header  *blockHeader `json:"header"`
	TxCount int          `json:"txCount"`
}

// EventIndex reads Pact events of one chain from the Chainweb node API.
type EventIndex struct {
	baseURL string
	chainID string
	hc      *http.Client

	ReconnectDelay time.Duration
}

func NewEventIndex(cfg *Config, hc *http.Client) *EventIndex {
	if hc == nil {
		hc = &http.Client{}
	}
	return &EventIndex{
		baseURL:        fmt.Sprintf("%s/chainweb/0.0/%s", cfg.ServerURL(), cfg.NetworkID),
		chainID:        cfg.ChainID,
		hc:             hc,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// Recent returns the events of the last blocks blocks that are at least
// depth deep, oldest first.
func (idx *EventIndex) Recent(ctx context.Context, depth, blocks uint64) ([]*Event, error) {
	if blocks == 0 {
		return nil, nil
	}

	var c cut
	if err := idx.getJSON(ctx, "/cut", "application/json", &c); err != nil {
		return nil, err
	}
	tip, ok := c.Hashes[idx.chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, idx.chainID)
	}
	if tip.Height < depth {
		return nil, nil
	}

	maxHeight := tip.Height - depth
	minHeight := uint64(0)
	if maxHeight+1 > blocks {
		minHeight = maxHeight + 1 - blocks
	}

	hdrs, err := idx.branch(ctx, minHeight, maxHeight, tip.Hash)
	if err != nil {
		return nil, err
	}

	events := []*Event{}
	for _, hdr := range hdrs {
		evs, err := idx.blockEvents(ctx, hdr)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// Stream follows the header updates of the node and calls fn for every
// event of a block once the block is depth deep. The stream is reopened
// after errors until ctx is done.
func (idx *EventIndex) Stream(ctx context.Context, depth uint64, fn func(*Event)) error {
	var last *uint64
	onHeader := func(hdr *blockHeader) error {
		if strconv.Itoa(hdr.ChainID) != idx.chainID || hdr.Height < depth {
			return nil
		}
		target := hdr.Height - depth
		if last != nil && target <= *last {
			return nil
		}

		// catch up on blocks missed between two updates
		from := target
		if last != nil {
			from = *last + 1
		}
		hdrs, err := idx.branch(ctx, from, target, hdr.Hash)
		if err != nil {
			return err
		}
		for _, h := range hdrs {
			evs, err := idx.blockEvents(ctx, h)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				fn(ev)
			}
		}
		last = &target
		return nil
	}

	for {
		err := idx.follow(ctx, onHeader)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithField("chain", idx.chainID).Warnf("event stream interrupted, reconnecting: err=%v", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idx.ReconnectDelay):
		}
	}
}

func (idx *EventIndex) follow(ctx context.Context, onHeader func(*blockHeader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idx.baseURL+"/header/updates", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := idx.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := readAllLimited(resp.Body, 1<<10)
		return fmt.Errorf("header updates: status=%d, body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return readSSE(resp.Body, func(event, data string) error {
		if event != "" && event != "BlockHeader" {
			return nil
		}
		var u headerUpdate
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			return fmt.Errorf("invalid header update: %w", err)
		}
		if u.Header == nil {
			return nil
		}
		return onHeader(u.Header)
	})
}

// readSSE calls fn for every event of a server-sent event stream until the
// stream ends or fn fails.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// branch returns the headers between minHeight and maxHeight on the branch
// ending in upper, ordered by height.
func (idx *EventIndex) branch(ctx context.Context, minHeight, maxHeight uint64, upper string) ([]*blockHeader, error) {
	body, err := json.Marshal(&branchBounds{Lower: []string{}, Upper: []string{upper}})
	if err != nil {
		return nil, err
	}

	hdrs := []*blockHeader{}
	next := ""
	for {
		q := url.Values{}
		q.Set("minheight", strconv.FormatUint(minHeight, 10))
		q.Set("maxheight", strconv.FormatUint(maxHeight, 10))
		if next != "" {
			q.Set("next", next)
		}
		path := fmt.Sprintf("/chain/%s/header/branch?%s", idx.chainID, q.Encode())

		var page branchPage
		if err := idx.do(ctx, http.MethodPost, path, headerEncoding, body, &page); err != nil {
			return nil, err
		}
		hdrs = append(hdrs, page.Items...)
		if page.Next == nil || *page.Next == "" || len(page.Items) == 0 {
			break
		}
		next = *page.Next
	}

	sort.Slice(hdrs, func(i, j int) bool { return hdrs[i].Height < hdrs[j].Height })
	return hdrs, nil
}

func (idx *EventIndex) blockEvents(ctx context.Context, hdr *blockHeader) ([]*Event, error) {
	var out payloadOutputs
	path := fmt.Sprintf("/chain/%s/payload/%s/outputs", idx.chainID, hdr.PayloadHash)
	if err := idx.getJSON(ctx, path, "application/json", &out); err != nil {
		return nil, err
	}

	events := []*Event{}
	for _, tx := range out.Transactions {
		raw, err := decodeBase64URL(tx[1])
		if err != nil {
			return nil, fmt.Errorf("invalid output in block %s: %w", hdr.Hash, err)
		}
		var res CommandResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("invalid output in block %s: %w", hdr.Hash, err)
		}
		for i := range res.Events {
			ev := res.Events[i]
			ev.Height = hdr.Height
			ev.BlockHash = hdr.Hash
			ev.RequestKey = res.ReqKey
			events = append(events, &ev)
		}
	}
	return events, nil
}

func (idx *EventIndex) getJSON(ctx context.Context, path, accept string, out any) error {
	return idx.do(ctx, http.MethodGet, path, accept, nil, out)
}

func (idx *EventIndex) do(ctx context.Context, method, path, accept string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, idx.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := idx.hc.Do(req)
	if err != nil {
		return &TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	b, err := readAllLimited(resp.Body, 16<<20)
	if err != nil {
		return &TransportError{Op: path, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &TransportError{Op: path, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ParseProposeEvent reads a PROPOSE event of the relay module. The params
// are the block number, the block hash, the proposing bond and the bonds
// that endorse the proposal.
func ParseProposeEvent(ev *Event) (*agreement.ProposeEvent, error) {
	if ev.Name != ProposeEventName {
		return nil, fmt.Errorf("not a %s event: %s", ProposeEventName, ev.Name)
	}
	if len(ev.Params) < 4 {
		return nil, fmt.Errorf("%s event with %d params", ProposeEventName, len(ev.Params))
	}

	number, err := parseInt(ev.Params[0])
	if err != nil {
		return nil, fmt.Errorf("invalid block number: %w", err)
	}

	var hash string
	if err := json.Unmarshal(ev.Params[1], &hash); err != nil {
		return nil, fmt.Errorf("invalid block hash: %w", err)
	}
	b, err := decodeHash(hash)
	if err != nil {
		return nil, err
	}

	var bonders []string
	if err := json.Unmarshal(ev.Params[3], &bonders); err != nil {
		// a single bond
		var bond string
		if err2 := json.Unmarshal(ev.Params[3], &bond); err2 != nil {
			return nil, fmt.Errorf("invalid bonders: %w", err)
		}
		bonders = []string{bond}
	}

	return &agreement.ProposeEvent{
		BlockNumber: number,
		BlockHash:   b,
		Bonders:     bonders,
		Height:      ev.Height,
		RequestKey:  ev.RequestKey,
	}, nil
}

func decodeHash(s string) (ethcommon.Hash, error) {
	b, err := common.DecodeHex(s)
	if err != nil || len(b) != ethcommon.HashLength {
		return ethcommon.Hash{}, fmt.Errorf("invalid block hash: %q", s)
	}
	return ethcommon.BytesToHash(b), nil
}
