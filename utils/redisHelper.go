package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, GetCacheLifespan())
}

// retrieve instance, returns nil when not cached
func RetrieveRedis[T any](id int) (*T, error) {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)

	var obj T
	exists, err := config.GetRedisObject(key, &obj)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &obj, nil
}

func RemoveInstanceRedis[T any](id int) error {
	typeName := GetTypeName[T]()
	return config.RemoveRedisKey(typeName + ":" + fmt.Sprint(id))
}
