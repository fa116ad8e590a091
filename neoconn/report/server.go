package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// listConnectionsQuery counts the server's own view of open bolt
// connections. dbms.listConnections requires admin privileges on most
// deployments; the reporter treats a permission failure as a skipped
// sample, not a fault.
const listConnectionsQuery = "CALL dbms.listConnections() YIELD connectionId RETURN count(connectionId) AS connections"

// ErrNoConnectionCount is returned when the server query yields no usable
// count.
var ErrNoConnectionCount = errors.New("report: server returned no connection count")

// Neo4jServerConnections adapts a driver into a Config.ServerConnections
// sampler backed by dbms.listConnections.
func Neo4jServerConnections(driver neo4j.DriverWithContext) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if driver == nil {
			return 0, errors.New("report: nil driver")
		}

		result, err := neo4j.ExecuteQuery(ctx, driver, listConnectionsQuery, nil, neo4j.EagerResultTransformer)
		if err != nil {
			return 0, fmt.Errorf("list connections: %w", err)
		}

		if len(result.Records) == 0 {
			return 0, ErrNoConnectionCount
		}

		value, found := result.Records[0].Get("connections")
		if !found {
			return 0, ErrNoConnectionCount
		}

		count, ok := value.(int64)
		if !ok {
			return 0, fmt.Errorf("%w: unexpected type %T", ErrNoConnectionCount, value)
		}

		return count, nil
	}
}
