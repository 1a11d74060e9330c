package services

import (
	"budgetplanner/internal/auth"
	"budgetplanner/internal/core"
	"budgetplanner/internal/storage"
)

// Persisted layout, partitioned per user:
//
//	users/{uid}/bank_accounts/{id}
//	users/{uid}/budget/{month}
//	users/{uid}/budget/{month}/items/{id}
//	users/{uid}/saving_goals/{id}
//	users/{uid}/saving_goals/{id}/deposits/{id}
//	users/{uid}/recurring_items/{id}

func userRoot(s auth.Session) string {
	return storage.Join("users", s.UserID)
}

func accountsPath(s auth.Session) string {
	return storage.Join(userRoot(s), "bank_accounts")
}

func accountPath(s auth.Session, id string) string {
	return storage.Join(accountsPath(s), id)
}

func monthPath(s auth.Session, m core.MonthKey) string {
	return storage.Join(userRoot(s), "budget", string(m))
}

func itemsPath(s auth.Session, m core.MonthKey) string {
	return storage.Join(monthPath(s, m), "items")
}

func itemPath(s auth.Session, m core.MonthKey, id string) string {
	return storage.Join(itemsPath(s, m), id)
}

func goalsPath(s auth.Session) string {
	return storage.Join(userRoot(s), "saving_goals")
}

func goalPath(s auth.Session, id string) string {
	return storage.Join(goalsPath(s), id)
}

func depositsPath(s auth.Session, goalID string) string {
	return storage.Join(goalPath(s, goalID), "deposits")
}

func depositPath(s auth.Session, goalID, id string) string {
	return storage.Join(depositsPath(s, goalID), id)
}

func recurringsPath(s auth.Session) string {
	return storage.Join(userRoot(s), "recurring_items")
}

func recurringPath(s auth.Session, id string) string {
	return storage.Join(recurringsPath(s), id)
}
