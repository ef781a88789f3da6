// Package bootstrap wires configuration, resource loading, the threat engine,
// reporting and run history into an App that processes a batch of threat
// models. It keeps the composition out of the cmd package so it can be
// tested without cobra.
//
// Usage:
//
//	_, sugar, err := bootstrap.InitLogger(bootstrap.LoggerOptions{})
//	cfg, err := bootstrap.InitConfig("", flags, sugar)
//	app, err := bootstrap.NewApp(ctx, cfg, sugar)
//	if err != nil {
//	    return err
//	}
//	defer app.Shutdown()
//
//	batch, err := app.Run(ctx)
package bootstrap
