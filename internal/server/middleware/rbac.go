package middleware

import "context"

// CanRead reports whether the request may read the history of account.
// Requests without claims pass: they only exist when Auth is not mounted.
func CanRead(ctx context.Context, account string) bool {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return true
	}
	return claims.AllowsAccount(account)
}

// CanAdmin reports whether the request may modify state (clear history, edit
// favourites). The same rule as CanRead applies to requests without claims.
func CanAdmin(ctx context.Context) bool {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return true
	}
	return claims.Admin
}
