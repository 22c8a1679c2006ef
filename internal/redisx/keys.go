package redisx

import "fmt"

const ns = "tixflow:v1"

func KeyLedgerStats() string {
	return ns + ":ledger:stats"
}

func KeyPayment(orderID string) string {
	return fmt.Sprintf("%s:payment:%s", ns, orderID)
}

func KeyIdemCreate(idemKey string) string {
	return fmt.Sprintf("%s:idem:create:%s", ns, idemKey)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelLedgerChanged() string {
	return ns + ":ledger:changed"
}
