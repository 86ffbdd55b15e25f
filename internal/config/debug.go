package config

import "os"

func IsDebug() bool {
	return os.Getenv("CHATD_DEBUG") == "1" || os.Getenv("CHATD_DEBUG") == "true"
}
