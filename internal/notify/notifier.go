// Package notify delivers issued OTP codes to farmers. Delivery is best effort:
// callers log a failed Deliver and move on.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"farmer-auth/internal/util"
)

type Notifier interface {
	Deliver(ctx context.Context, phone, code string) error
}

// MessageText renders the SMS body shown to the farmer.
func MessageText(code string, validFor time.Duration) string {
	return fmt.Sprintf("Your TriNetra login code is %s. It is valid for %d minutes. Do not share it with anyone.",
		code, int(validFor.Minutes()))
}

// LogNotifier writes the code to the service log. Development only.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(_ context.Context, phone, code string) error {
	n.logger.Info("OTP issued (log channel)",
		util.Phone(phone),
		zap.String("otp", code),
	)
	return nil
}
