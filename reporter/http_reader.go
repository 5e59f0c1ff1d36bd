// Reader is a client of the http reporter, used by the bond tool and tests.

package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/TEENet-io/bonder-relay/relaydb"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) url(route string, q url.Values) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(hr.serverIP, hr.serverPort), Path: route}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (hr *HttpReader) get(route string, q url.Values, out any) error {
	resp, err := http.Get(hr.url(route, q))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read the response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status=%d, body=%s", route, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func (hr *HttpReader) GetHealth() (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := hr.get(ROUTE_HEALTH, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (hr *HttpReader) GetStatus() (*Status, error) {
	out := &Status{}
	if err := hr.get(ROUTE_STATUS, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (hr *HttpReader) GetDecisions(blockHash string) ([]*relaydb.Decision, error) {
	var out struct {
		Data []*relaydb.Decision `json:"data"`
	}
	if err := hr.get(ROUTE_DECISIONS, url.Values{"block_hash": {blockHash}}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (hr *HttpReader) GetRecentDecisions(limit int) ([]*relaydb.Decision, error) {
	var out struct {
		Data []*relaydb.Decision `json:"data"`
	}
	if err := hr.get(ROUTE_DECISIONS, url.Values{"limit": {strconv.Itoa(limit)}}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
