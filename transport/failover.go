package transport

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/riftlabs/gostomp"
)

// DialFailover parses a failover:(...) URI and repeatedly attempts to
// Connect to the brokers it names, following the backoff and broker
// selection policy in stomp.FailoverProtocol, until one attempt succeeds
// or the protocol's attempt budget is exhausted. Adapted from
// djoyahoy-stomp/client.go's single-broker Connect, generalized to the
// multi-broker reconnect loop the failover URI describes.
func DialFailover(uri string, conf *Config, trConf *TransportConfig) (*Transport, error) {
	parsed, err := stomp.ParseFailoverURI(uri)
	if err != nil {
		return nil, errors.Wrap(err, "transport: parsing failover URI")
	}

	logger := conf.logger()
	proto := stomp.NewFailoverProtocol(parsed)

	var lastErr error
	for {
		broker, delay, err := proto.Next()
		if err != nil {
			if lastErr != nil {
				return nil, errors.Wrapf(err, "last attempt: %v", lastErr)
			}
			return nil, err
		}

		if delay > 0 {
			time.Sleep(delay)
		}

		addr := broker.Host + ":" + strconv.Itoa(broker.Port)
		attemptTrConf := trConf
		if broker.Protocol == "ssl" && (trConf == nil || trConf.TLSConfig == nil) {
			logger.WithField("broker", broker.String()).Warn("transport: ssl broker requested but no TLSConfig supplied")
		}

		t, err := Connect(addr, conf, attemptTrConf)
		if err != nil {
			logger.WithError(err).WithField("broker", broker.String()).Warn("transport: failover attempt failed")
			lastErr = err
			continue
		}

		proto.Connected()
		return t, nil
	}
}
