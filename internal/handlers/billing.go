package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/PortNumber53/creator-studio/internal/docstore"
	"github.com/PortNumber53/creator-studio/internal/models"
)

// CheckoutCreator opens Stripe Checkout sessions. The live implementation is
// client.API's CheckoutSessions.
type CheckoutCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeCheckout returns a checkout client for key, or nil when key is empty.
func NewStripeCheckout(key string) CheckoutCreator {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return sc.CheckoutSessions
}

// EventLedger remembers processed Stripe events. Record reports first=false
// for an event that was already recorded.
type EventLedger interface {
	Record(ctx context.Context, eventID, eventType string, raw json.RawMessage) (first bool, err error)
	Forget(ctx context.Context, eventID string) error
}

// SQLLedger keeps events in public.billing_events.
type SQLLedger struct {
	DB *sql.DB
}

func (l SQLLedger) Record(ctx context.Context, eventID, eventType string, raw json.RawMessage) (bool, error) {
	res, err := l.DB.ExecContext(ctx, `
		INSERT INTO public.billing_events (id, stripe_event_id, stripe_event_type, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, "evt_"+eventID, eventID, eventType, []byte(raw))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l SQLLedger) Forget(ctx context.Context, eventID string) error {
	_, err := l.DB.ExecContext(ctx, `DELETE FROM public.billing_events WHERE stripe_event_id = $1`, eventID)
	return err
}

const collectionBillingEvents = "billingEvents"

// DocLedger keeps events as documents keyed by event id, for the memory store.
type DocLedger struct {
	Store docstore.Store
}

type ledgerEntry struct {
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (l DocLedger) Record(ctx context.Context, eventID, eventType string, _ json.RawMessage) (bool, error) {
	_, err := l.Store.Create(ctx, collectionBillingEvents, "", eventID, ledgerEntry{Type: eventType, ReceivedAt: time.Now().UTC()})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

func (l DocLedger) Forget(ctx context.Context, eventID string) error {
	err := l.Store.Delete(ctx, collectionBillingEvents, eventID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckout opens a one-off payment for a published, priced content item.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	if h.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, codeBillingDisabled, "payments are not configured")
		return
	}
	doc, err := h.store.Get(r.Context(), models.CollectionContent, pathVar(r, "contentId"))
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	item, err := models.DecodeContentItem(doc)
	if err != nil {
		h.writeStoreError(w, r, "content", err)
		return
	}
	if item.Status != models.ContentStatusPublished {
		writeError(w, http.StatusNotFound, codeNotFound, "content not found")
		return
	}
	if !item.Price.IsPositive() {
		badRequest(w, "content is free")
		return
	}
	if item.UserID == uid {
		badRequest(w, "cannot buy your own content")
		return
	}

	origin := strings.TrimRight(h.cfg.PublicOrigin, "/")
	cents := item.Price.Mul(decimal.NewFromInt(100)).IntPart()
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(cents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(origin + "/content/" + item.ID + "?checkout=success"),
		CancelURL:         stripe.String(origin + "/content/" + item.ID + "?checkout=cancel"),
		ClientReferenceID: stripe.String(uid),
	}
	params.AddMetadata("contentId", item.ID)
	params.AddMetadata("buyerId", uid)
	params.AddMetadata("creatorId", item.UserID)

	sess, err := h.checkout.New(params)
	if err != nil {
		h.logger.Printf("[Billing][Checkout] stripe_error content=%s buyer=%s err=%v", item.ID, uid, err)
		writeError(w, http.StatusBadGateway, codeInternal, "could not start checkout")
		return
	}
	h.logger.Printf("[Billing][Checkout] session=%s content=%s buyer=%s cents=%d", sess.ID, item.ID, uid, cents)
	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: sess.ID, URL: sess.URL})
}

// StripeWebhook records each event once and credits content earnings for paid
// checkouts. Without a webhook secret events are recorded but never credited.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("[Billing][Webhook] read error: %v", err)
		badRequest(w, "failed to read request body")
		return
	}

	var event stripe.Event
	verified := false
	if secret := h.cfg.StripeWebhookSecret; secret != "" {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			h.logger.Printf("[Billing][Webhook] missing Stripe-Signature header")
			badRequest(w, "missing signature")
			return
		}
		event, err = webhook.ConstructEvent(payload, sig, secret)
		if err != nil {
			h.logger.Printf("[Billing][Webhook] signature verification error: %v", err)
			badRequest(w, "invalid signature")
			return
		}
		verified = true
	} else {
		h.logger.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, events are recorded but not credited")
		if err := json.Unmarshal(payload, &event); err != nil {
			h.logger.Printf("[Billing][Webhook] unmarshal error: %v", err)
			badRequest(w, "invalid JSON")
			return
		}
	}
	if event.ID == "" {
		badRequest(w, "event id is required")
		return
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	first, err := h.ledger.Record(r.Context(), event.ID, string(event.Type), raw)
	if err != nil {
		h.logger.Printf("[Billing][Webhook] event save error: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "could not record event")
		return
	}
	if !first {
		h.logger.Printf("[Billing][Webhook] duplicate event=%s type=%s", event.ID, event.Type)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	if verified {
		if err := h.processStripeEvent(r.Context(), event); err != nil {
			h.logger.Printf("[Billing][Webhook] process error event=%s type=%s err=%v", event.ID, event.Type, err)
			if ferr := h.ledger.Forget(context.WithoutCancel(r.Context()), event.ID); ferr != nil {
				h.logger.Printf("[Billing][Webhook] forget error event=%s err=%v", event.ID, ferr)
			}
			writeError(w, http.StatusInternalServerError, codeInternal, "could not process event")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	default:
		h.logger.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
		return nil
	}
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return errors.New("event has no data")
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Printf("[Billing][Webhook] checkout_unpaid session=%s status=%s", sess.ID, sess.PaymentStatus)
		return nil
	}
	contentID := sess.Metadata["contentId"]
	if contentID == "" {
		h.logger.Printf("[Billing][Webhook] checkout_without_content session=%s", sess.ID)
		return nil
	}
	amount := decimal.New(sess.AmountTotal, -2)
	total, err := h.creditEarnings(ctx, contentID, amount)
	if errors.Is(err, docstore.ErrNotFound) {
		h.logger.Printf("[Billing][Webhook] content_gone session=%s content=%s", sess.ID, contentID)
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Printf("[Billing][Webhook] credited content=%s amount=%s total=%s session=%s",
		contentID, amount.StringFixed(2), total.StringFixed(2), sess.ID)
	return nil
}

const creditAttempts = 5

// creditEarnings adds amount to the content's earned total in decimal. The
// write is conditional on the value it read, so concurrent credits retry
// instead of overwriting each other.
func (h *Handler) creditEarnings(ctx context.Context, contentID string, amount decimal.Decimal) (decimal.Decimal, error) {
	for attempt := 0; attempt < creditAttempts; attempt++ {
		doc, err := h.store.Get(ctx, models.CollectionContent, contentID)
		if err != nil {
			return decimal.Decimal{}, err
		}
		var body struct {
			Earned json.RawMessage `json:"earned"`
		}
		if err := doc.DataTo(&body); err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode content %s: %w", contentID, err)
		}
		var prev any
		total := decimal.Zero
		if len(body.Earned) > 0 && string(body.Earned) != "null" {
			if err := json.Unmarshal(body.Earned, &prev); err != nil {
				return decimal.Decimal{}, fmt.Errorf("decode earned: %w", err)
			}
			if err := total.UnmarshalJSON(body.Earned); err != nil {
				return decimal.Decimal{}, fmt.Errorf("decode earned: %w", err)
			}
		}
		next := total.Add(amount)
		_, err = h.store.UpdateWhere(ctx, models.CollectionContent, contentID,
			[]docstore.Filter{docstore.Where("earned", docstore.OpEq, prev)},
			docstore.Set("earned", next.StringFixed(2)))
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			continue
		}
		if err != nil {
			return decimal.Decimal{}, err
		}
		return next, nil
	}
	return decimal.Decimal{}, fmt.Errorf("credit content %s: %w after %d attempts", contentID, docstore.ErrPreconditionFailed, creditAttempts)
}
