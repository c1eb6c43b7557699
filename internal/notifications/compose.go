package notifications

import (
	"fmt"

	"github.com/x42/offer-notifier/internal/selection"
)

// Compose builds the push message announcing sel to the device token.
func Compose(token string, sel selection.Result) Message {
	est := sel.Establishment
	var body string
	if sel.Branch == selection.BranchNearby {
		body = fmt.Sprintf("¡Estás cerca de %s! Aprovecha el descuento de %s.", est.Name, est.Discount)
	} else {
		body = fmt.Sprintf("%s tiene un descuento especial: %s.", est.Name, est.Discount)
	}
	return Message{
		To:    token,
		Sound: sound,
		Title: offerTitle,
		Body:  body,
		Data:  map[string]string{dataKeyID: string(est.ID)},
	}
}

// EstablishmentID returns the establishment id carried by msg.
func EstablishmentID(msg Message) (string, bool) {
	id, ok := msg.Data[dataKeyID]
	return id, ok
}
