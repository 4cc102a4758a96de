package database

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"google.golang.org/api/option"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
)

// Firebase bundles the Admin SDK clients the service uses. Firestore is
// nil unless requested.
type Firebase struct {
	App       *firebase.App
	Auth      *auth.Client
	Firestore *firestore.Client
}

// ConnectFirebase initializes the Admin SDK. Without a credentials file the
// application default credentials are used.
func ConnectFirebase(ctx context.Context, projectID, credentialsPath string, withFirestore bool, log logger.Logger) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		if _, err := os.Stat(credentialsPath); err != nil {
			return nil, fmt.Errorf("firebase credentials %s: %w", credentialsPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	log.Info("Firebase app initialized", logger.String("project", projectID))

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}
	fb := &Firebase{App: app, Auth: authClient}

	if withFirestore {
		fb.Firestore, err = app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize firestore: %w", err)
		}
		log.Info("Firestore client initialized")
	}
	return fb, nil
}

// Close releases the Firestore connection.
func (f *Firebase) Close() error {
	if f.Firestore != nil {
		return f.Firestore.Close()
	}
	return nil
}
