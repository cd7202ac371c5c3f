package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"github.com/normanking/netbot/internal/logging"
)

// SpeedFailedMessage is returned in-band when a speed test cannot complete.
const SpeedFailedMessage = "Internet speed test failed."

// SpeedResult is one measurement.
type SpeedResult struct {
	DownloadMbps float64
	UploadMbps   float64
	Ping         time.Duration
	Server       string
}

// SpeedTester measures the internet connection.
type SpeedTester interface {
	Measure(ctx context.Context) (*SpeedResult, error)
}

// OoklaTester measures against the nearest speedtest.net server.
type OoklaTester struct {
	client *speedtest.Speedtest
}

// NewOoklaTester creates a tester with a default speedtest client.
func NewOoklaTester() *OoklaTester {
	return &OoklaTester{client: speedtest.New()}
}

// Measure picks the best server and runs ping, download and upload tests.
func (o *OoklaTester) Measure(ctx context.Context) (*SpeedResult, error) {
	servers, err := o.client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch servers: %w", err)
	}
	targets, err := servers.FindServer([]int{})
	if err != nil {
		return nil, fmt.Errorf("find server: %w", err)
	}
	if len(targets) == 0 {
		return nil, errors.New("no speedtest server available")
	}

	s := targets[0]
	if err := s.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping test: %w", err)
	}
	if err := s.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := s.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	return &SpeedResult{
		DownloadMbps: s.DLSpeed.Mbps(),
		UploadMbps:   s.ULSpeed.Mbps(),
		Ping:         s.Latency,
		Server:       s.Name,
	}, nil
}

// SpeedTest is the run_speed_test capability.
type SpeedTest struct {
	Tester SpeedTester
	log    *logging.Logger
}

// NewSpeedTest wraps a SpeedTester. A nil tester uses speedtest.net.
func NewSpeedTest(tester SpeedTester) *SpeedTest {
	if tester == nil {
		tester = NewOoklaTester()
	}
	return &SpeedTest{Tester: tester, log: logging.Global().WithComponent("speedtest")}
}

// Run measures the connection and reports the numbers as text. Failures are
// reported in-band as SpeedFailedMessage; a cancelled context is transient.
func (s *SpeedTest) Run(ctx context.Context, params Params) (any, error) {
	query, _ := params.String("query")

	res, err := s.Tester.Measure(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Transient(err)
		}
		s.log.Error("speedtest failed: %v", err)
		return SpeedFailedMessage, nil
	}

	report := fmt.Sprintf(`User: %s
Internet Speed Test Results:
- Download Speed: %.2f Mbps
- Upload Speed: %.2f Mbps
- Ping: %.2f ms`, query, res.DownloadMbps, res.UploadMbps, float64(res.Ping)/float64(time.Millisecond))

	s.log.Info("speedtest finished: %.2f/%.2f Mbps, %v", res.DownloadMbps, res.UploadMbps, res.Ping)
	return report, nil
}
