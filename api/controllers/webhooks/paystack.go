package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/towline/towline-backend/api/responses"
	"github.com/towline/towline-backend/internal/settlement"
	pkgerrors "github.com/towline/towline-backend/pkg/errors"
	"github.com/towline/towline-backend/pkg/logger"
	"github.com/towline/towline-backend/pkg/paystack"
)

const maxWebhookBody = 1 << 20

type PaystackWebhookService interface {
	HandleWebhook(ctx context.Context, raw []byte, signature string) (settlement.Outcome, error)
}

// PaystackWebhook applies gateway deliveries. Bad signatures and bodies get
// 400; failures worth a redelivery get a 5xx; everything else is
// acknowledged with 200 so the gateway stops retrying.
func PaystackWebhook(svc PaystackWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(paystack.SignatureHeader))
		if signature == "" {
			signature = strings.TrimSpace(r.Header.Get(paystack.LegacySignatureHeader))
		}

		outcome, err := svc.HandleWebhook(ctx, payload, signature)
		if err != nil {
			switch {
			case pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook signature"))
			case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
				responses.WriteError(ctx, logg, w, err)
			case pkgerrors.Retryable(err):
				responses.WriteError(ctx, logg, w, err)
			default:
				if logg != nil {
					logg.Error(ctx, "paystack webhook not applied", err)
				}
				responses.WriteSuccess(w, map[string]string{"status": "failed"})
			}
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "paystack webhook handled")
		}
		responses.WriteSuccess(w, map[string]string{"status": string(outcome)})
	}
}
