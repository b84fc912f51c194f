package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	movieNamespace     = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cine-agenda/movie"))
	screeningNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cine-agenda/screening"))
)

// MovieID выводит стабильный идентификатор фильма из нормализованного ключа.
func MovieID(key string) string {
	return uuid.NewSHA1(movieNamespace, []byte(key)).String()
}

// ScreeningID выводит стабильный идентификатор сеанса из ключа идентичности.
func ScreeningID(k ScreeningKey) string {
	raw := strings.Join([]string{k.CinemaID, k.MovieID, strconv.FormatInt(k.StartsAt, 10), k.Version}, "|")
	return uuid.NewSHA1(screeningNamespace, []byte(raw)).String()
}

// NewBatchID создаёт идентификатор пакета обновления.
func NewBatchID() string {
	return uuid.NewString()
}

// NewEventID создаёт идентификатор события обновления.
func NewEventID() string {
	return uuid.NewString()
}
