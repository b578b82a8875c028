// Package mongo connects to MongoDB with the official v2 driver.
//
//	client, db, err := mongo.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(context.Background())
//	prefs := mongostore.NewPreferences(db)
//
// New retries the initial ping; Healthcheck adapts the client to /healthz.
package mongo
