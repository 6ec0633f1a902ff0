package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	// Database drivers for the device store
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// newStoreBackedClient is the default ClientFactory. Each tenant gets its
// own device store under its session directory; WA_STORE_DRIVER=pgx with
// WA_STORE_DSN switches every tenant onto a shared postgres store.
func (m *SessionManager) newStoreBackedClient(ctx context.Context, tenantID, storeDir string) (Client, error) {
	driver := os.Getenv("WA_STORE_DRIVER")
	dsn := os.Getenv("WA_STORE_DSN")
	if driver == "" || driver == "sqlite" {
		driver = "sqlite"
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", filepath.Join(storeDir, "store.db"))
	}

	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "ERROR", true))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client/"+tenantID, "ERROR", true))
	return newRealClientWrapper(client), nil
}
