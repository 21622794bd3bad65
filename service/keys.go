package service

import (
	"strconv"
	"strings"

	"github.com/saiset-co/vinyl-tracker/types"
)

const (
	allVinylsKey = "all-vinyls"
	allUsersKey  = "all-users"
)

func vinylKey(id int) string {
	return "vinyl-" + strconv.Itoa(id)
}

func searchVinylKey(filter types.VinylFilter) string {
	return "search-vinyl-" + filter.Key()
}

func searchVinylTextKey(query string) string {
	return "search-vinyl-text-" + strings.ToLower(query)
}

func uploaderKey(userID int) string {
	return "vinyls-uploader-" + strconv.Itoa(userID)
}

func userKey(id int) string {
	return "user-" + strconv.Itoa(id)
}

func usernameKey(username string) string {
	return "user-username-" + username
}

func userVinylsKey(userID int) string {
	return "user-vinyls-" + strconv.Itoa(userID)
}

func vinylUsersKey(vinylID int) string {
	return "vinyl-users-" + strconv.Itoa(vinylID)
}
