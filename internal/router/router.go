package router

import (
	"therapyline/pkg/interfaces"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// Router resolves recipient policies against presence and pushes events.
// ARCHITECTURAL DISCOVERY: the engine names recipients by policy only; which
// transport a user is connected through is resolved here at delivery time.
type Router struct {
	registry interfaces.PresenceRegistry
	log      *logger.Logger
}

// DeliveryReport summarises one fan-out.
type DeliveryReport struct {
	Targeted  int
	Delivered int
	Failed    int
}

// NewRouter creates a fan-out router over the presence registry.
func NewRouter(registry interfaces.PresenceRegistry, log *logger.Logger) *Router {
	return &Router{
		registry: registry,
		log:      log.Named("router"),
	}
}

// GetRecipients resolves a policy to the currently connected entries.
// An offline single user resolves to no recipients rather than an error.
func (r *Router) GetRecipients(policy types.RecipientPolicy) ([]interfaces.PresenceEntry, error) {
	switch policy.Kind {
	case types.PolicySingleUser:
		if policy.UserID == "" {
			return nil, ErrMissingRecipient
		}
		entry, exists := r.registry.Lookup(policy.UserID)
		if !exists {
			return nil, nil
		}
		return []interfaces.PresenceEntry{entry}, nil

	case types.PolicyAllOfRole:
		if policy.Role == "" {
			return nil, ErrMissingRole
		}
		entries := r.registry.ListByRole(policy.Role)
		if policy.Except == "" {
			return entries, nil
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.UserID != policy.Except {
				filtered = append(filtered, entry)
			}
		}
		return filtered, nil

	default:
		return nil, ErrUnknownPolicy
	}
}

// Deliver pushes the notification's event to every resolved recipient.
// Delivery is at-most-once: a failed send is logged and the remaining
// recipients still receive the event.
func (r *Router) Deliver(n *types.Notification) (DeliveryReport, error) {
	var report DeliveryReport
	if n == nil || n.Event == nil {
		return report, ErrNilNotification
	}

	recipients, err := r.GetRecipients(n.Policy)
	if err != nil {
		return report, err
	}
	report.Targeted = len(recipients)

	for _, entry := range recipients {
		if err := entry.Channel.Send(n.Event); err != nil {
			report.Failed++
			r.log.Warn("Failed to deliver event",
				logger.String("event", n.Event.Type),
				logger.String("user_id", entry.UserID),
				logger.String("channel", entry.Channel.ID()),
				logger.Error(err))
			continue
		}
		report.Delivered++
	}

	r.log.Debug("Event fanned out",
		logger.String("event", n.Event.Type),
		logger.String("policy", string(n.Policy.Kind)),
		logger.Int("targeted", report.Targeted),
		logger.Int("delivered", report.Delivered))

	return report, nil
}
