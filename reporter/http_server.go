// This is a http type of reporter.
// It reads the relay status and the decision journal
// and publishes them on the http routes.

package reporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/bonder-relay/common"
	"github.com/TEENet-io/bonder-relay/relaydb"
)

const (
	ROUTE_HEALTH    = "/health"
	ROUTE_STATUS    = "/status"
	ROUTE_DECISIONS = "/decisions"

	defaultDecisionLimit = 50
	maxDecisionLimit     = 1000
)

// Status is a snapshot of the relay.
type Status struct {
	PublicKey    string `json:"publicKey"`
	Bond         string `json:"bond"`
	SourceHeight uint64 `json:"sourceHeight"`
	ProposeDepth uint64 `json:"proposeDepth"`
	EndorseDepth uint64 `json:"endorseDepth"`
}

type StatusFunc func() *Status

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	status    StatusFunc
	decisions relaydb.RelayDB // this is an interface
}

func NewHttpReporter(serverIP string, serverPort string, status StatusFunc, decisions relaydb.RelayDB) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		status:     status,
		decisions:  decisions,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(ROUTE_HEALTH, Health)
	router.GET(ROUTE_STATUS, h.Status)
	router.GET(ROUTE_DECISIONS, h.Decisions)

	return router
}

// Run serves until ctx is done.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(h.serverIP, h.serverPort),
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", srv.Addr).Info("starting http reporter")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("stopped http reporter")
	return nil
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HttpReporter) Status(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status not available"})
		return
	}
	c.JSON(http.StatusOK, h.status())
}

// Fetch decisions from the journal db.
// Either those about one block or the latest ones.
func (h *HttpReporter) Decisions(c *gin.Context) {
	if h.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision journal not available"})
		return
	}

	if blockHash := c.Query("block_hash"); blockHash != "" {
		b, err := common.DecodeHex(blockHash)
		if err != nil || len(b) != 32 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block_hash"})
			return
		}
		ds, err := h.decisions.Decisions(b)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(ds) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "No decision found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ds})
		return
	}

	limit := defaultDecisionLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxDecisionLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	ds, err := h.decisions.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ds})
}
