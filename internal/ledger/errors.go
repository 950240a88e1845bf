package ledger

import "errors"

// Every guard failure aborts the call with no state change.
var (
	ErrNotRegisteredCharger          = errors.New("sender is not a registered charger")
	ErrNotRegisteredPaymentValidator = errors.New("sender is not a registered payment validator")
	ErrNoChargingRequest             = errors.New("no charging request for this charger and user")
	ErrNoChargingSession             = errors.New("no charging session for this charger and user")
	ErrChargerIsBusy                 = errors.New("charger already has a pending request or active session")
	ErrNoPaymentConsent              = errors.New("user has no payment consent on file")
	ErrNoConsentForPayment           = errors.New("no consent matches this settlement request")
	ErrAlreadyConfirmedPayment       = errors.New("payment already confirmed for this session")
	ErrAlreadyRequestedPayment       = errors.New("payment already pending for this session")
	ErrNonExistentPayment            = errors.New("no pending payment for this session")
	ErrNoTariff                      = errors.New("no tariff configured")
	ErrNotAnAdmin                    = errors.New("sender does not own the charger organization")
	ErrAlreadyRegisteredCharger      = errors.New("charger already registered")
)
