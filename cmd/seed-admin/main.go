// seed-admin creates or updates the warehouse console admin user.
// Admin users have role 'A' and may act across businesses.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	adminUsername = "warehouseAdmin"
	adminName     = "Warehouse Admin"
)

func main() {
	password := flag.String("password", "", "Required: password for the admin user")
	businessID := flag.String("business-id", "", "Optional: business id to attach the admin to (a new uuid is generated when empty and no user exists)")
	flag.Parse()

	if strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "--password is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}

		bid := strings.TrimSpace(*businessID)
		if bid == "" {
			bid = uuid.NewString()
		}
		u := models.User{
			BusinessId: bid,
			Username:   adminUsername,
			Name:       adminName,
			Password:   hashedStr,
			Role:       models.UserRoleAdmin,
			IsActive:   utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q business_id=%q\n", adminUsername, bid)
		return
	}

	updates := map[string]any{
		"password":  hashedStr,
		"name":      adminName,
		"is_active": utils.NewTrue(),
		"role":      models.UserRoleAdmin,
	}
	if strings.TrimSpace(*businessID) != "" {
		updates["business_id"] = strings.TrimSpace(*businessID)
	}
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(updates).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q\n", adminUsername)
}
