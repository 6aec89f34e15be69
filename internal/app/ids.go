package app

import "github.com/google/uuid"

func newUUID() string {
	return uuid.NewString()
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
