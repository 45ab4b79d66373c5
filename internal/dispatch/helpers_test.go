package dispatch

import (
	"context"

	"github.com/telhawk-systems/deploydash/common/logging"
)

func topicFrom(ctx context.Context) string {
	return logging.TopicFromContext(ctx)
}
