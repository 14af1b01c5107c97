package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/keytrust/internal/config"
	khttp "github.com/dropDatabas3/keytrust/internal/http"
	"github.com/dropDatabas3/keytrust/internal/observability/logger"
	"github.com/dropDatabas3/keytrust/internal/resolver"
	"github.com/dropDatabas3/keytrust/internal/signature"
	"github.com/dropDatabas3/keytrust/internal/trust"
)

func main() {
	var (
		cfgPath = envOr("CONFIG_PATH", "")
		envFile = ".env"
		orgID   = envOr("KEYTRUST_ORG", "")
		out     = envOr("KEYTRUST_OUT", "text")
		a       *app
	)

	root := &cobra.Command{
		Use:           "keytrust",
		Short:         "Web of trust: firmas entre claves y caminos de confianza",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err == nil {
					fmt.Fprintf(os.Stderr, "dotenv: cargado %s\n", envFile)
				}
			}
			var cfg *config.Config
			var err error
			if cfgPath != "" {
				cfg, err = config.Load(cfgPath)
			} else {
				cfg, err = config.Default()
			}
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "keytrust"})

			a, err = openApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			_ = logger.Sync()
			if a != nil {
				return a.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "ruta a config.yaml (env CONFIG_PATH); vacío = sólo env")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "ruta a .env (si existe, se carga)")
	root.PersistentFlags().StringVar(&orgID, "org", orgID, "organización (env KEYTRUST_ORG)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	requireOrg := func() error {
		if orgID == "" {
			return errors.New("--org es requerido")
		}
		return nil
	}

	// resolve
	resolveCmd := &cobra.Command{
		Use:   "resolve <keyID>...",
		Short: "Resuelve claves y muestra el estado de cada nodo de la sesión",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			s := a.resolver().NewSession(cmd.Context(), orgID)
			if err := s.Resolve(cmd.Context(), args...); err != nil {
				return err
			}
			snap := s.Graph().Snapshot()
			if out == "json" {
				return printJSON(snap)
			}
			for _, n := range snap {
				peers := make([]string, 0, len(n.Mutual))
				for _, e := range n.Mutual {
					mark := "x"
					if e.Valid {
						mark = "ok"
					}
					peers = append(peers, e.PeerID+":"+mark)
				}
				fmt.Printf("%-24s %-14s retries=%d mutual=[%s]\n", n.KeyID, n.State, n.Retries, strings.Join(peers, " "))
			}
			return nil
		},
	}

	// path
	var pivot, from, to string
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Busca un camino de confianza from -> to usando pivot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			if pivot == "" {
				pivot = from
			}
			v, err := a.resolver().Check(cmd.Context(), orgID, pivot, from, to)
			if err != nil {
				return err
			}
			if out == "json" {
				if err := printJSON(v); err != nil {
					return err
				}
			} else {
				fmt.Printf("%s %s\n", v.Outcome, strings.Join(v.Path, " -> "))
				if v.Reason != "" {
					fmt.Println(v.Reason)
				}
			}
			return v.Err()
		},
	}
	pathCmd.Flags().StringVar(&pivot, "pivot", "", "clave pivote (default: --from)")
	pathCmd.Flags().StringVar(&from, "from", "", "clave origen")
	pathCmd.Flags().StringVar(&to, "to", "", "clave destino")
	_ = pathCmd.MarkFlagRequired("from")
	_ = pathCmd.MarkFlagRequired("to")

	// enroll
	var enrollKey, enrollOwner, enrollFile string
	var enrollTTL time.Duration
	enrollCmd := &cobra.Command{
		Use:   "enroll",
		Short: "Publica una clave nueva (auto-firmada) a partir de una clave privada EC en PEM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			att, kr, err := a.attester(enrollKey, enrollFile)
			if err != nil {
				return err
			}
			pub, err := kr.PublicKeyPEM(enrollKey)
			if err != nil {
				return err
			}
			k, err := att.Enroll(cmd.Context(), orgID, enrollOwner, enrollKey, pub, expiresIn(enrollTTL))
			if err != nil {
				return err
			}
			fmt.Printf("enrolled %s (owner %s, expires %s)\n", k.KeyID, k.OwnerID, k.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
	enrollCmd.Flags().StringVar(&enrollKey, "key-id", "", "key ID a publicar")
	enrollCmd.Flags().StringVar(&enrollOwner, "owner", "", "owner ID")
	enrollCmd.Flags().StringVar(&enrollFile, "key-file", "", "clave privada EC (PEM)")
	enrollCmd.Flags().DurationVar(&enrollTTL, "ttl", 365*24*time.Hour, "vigencia de la clave")
	for _, f := range []string{"key-id", "owner", "key-file"} {
		_ = enrollCmd.MarkFlagRequired(f)
	}

	// sign-key
	var signer, target, signFile string
	signCmd := &cobra.Command{
		Use:   "sign-key",
		Short: "Firma la clave target con la clave signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			att, _, err := a.attester(signer, signFile)
			if err != nil {
				return err
			}
			sk, err := a.key(cmd.Context(), orgID, signer)
			if err != nil {
				return err
			}
			tk, err := a.key(cmd.Context(), orgID, target)
			if err != nil {
				return err
			}
			if _, err := att.SignKey(cmd.Context(), sk, tk); err != nil {
				return err
			}
			fmt.Println(trust.SignaturePath(target, signer))
			return nil
		},
	}
	signCmd.Flags().StringVar(&signer, "signer", "", "key ID firmante")
	signCmd.Flags().StringVar(&target, "target", "", "key ID a firmar")
	signCmd.Flags().StringVar(&signFile, "key-file", "", "clave privada EC del firmante (PEM)")
	for _, f := range []string{"signer", "target", "key-file"} {
		_ = signCmd.MarkFlagRequired(f)
	}

	// trust-keys
	var issuer, trustFile string
	var chain []string
	trustCmd := &cobra.Command{
		Use:   "trust-keys",
		Short: "Emite declaraciones de confianza de issuer sobre una cadena de claves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(); err != nil {
				return err
			}
			att, _, err := a.attester(issuer, trustFile)
			if err != nil {
				return err
			}
			ik, err := a.key(cmd.Context(), orgID, issuer)
			if err != nil {
				return err
			}
			keys := make([]*trust.Key, 0, len(chain))
			for _, id := range chain {
				k, err := a.key(cmd.Context(), orgID, id)
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}
			block, err := att.TrustKeys(cmd.Context(), ik, keys)
			if err != nil {
				return err
			}
			fmt.Printf("%s trusts %d keys\n", issuer, len(block.Entities))
			return nil
		},
	}
	trustCmd.Flags().StringVar(&issuer, "issuer", "", "key ID emisor")
	trustCmd.Flags().StringSliceVar(&chain, "chain", nil, "cadena de key IDs (k1,k2,...)")
	trustCmd.Flags().StringVar(&trustFile, "key-file", "", "clave privada EC del emisor (PEM)")
	for _, f := range []string{"issuer", "key-file"} {
		_ = trustCmd.MarkFlagRequired(f)
	}

	// keygen: no necesita store ni config
	var genFile string
	var genForce bool
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave privada EC P-256 (PEM) e imprime su clave pública",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(genFile, genForce)
		},
	}
	keygenCmd.Flags().StringVar(&genFile, "key-file", "", "destino de la clave privada (PEM, 0600)")
	keygenCmd.Flags().BoolVar(&genForce, "force", false, "sobrescribir si el archivo existe")
	_ = keygenCmd.MarkFlagRequired("key-file")

	// serve
	var reqTimeout time.Duration
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Expone las consultas de confianza por HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a, reqTimeout)
		},
	}
	serveCmd.Flags().DurationVar(&reqTimeout, "request-timeout", 10*time.Second, "tiempo máximo de resolución por request")

	root.AddCommand(resolveCmd, pathCmd, enrollCmd, signCmd, trustCmd, keygenCmd, serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, resolver.ErrUnknown) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func keygen(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("keygen: %s ya existe (usar --force)", path)
		}
	}
	priv, err := signature.GeneratePrivateKeyPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, priv, 0o600); err != nil {
		return fmt.Errorf("keygen: write %s: %w", path, err)
	}

	kr := signature.NewKeyring("")
	if err := kr.AddPEM("new", priv); err != nil {
		return err
	}
	pub, err := kr.PublicKeyPEM("new")
	if err != nil {
		return err
	}
	fmt.Print(pub)
	return nil
}

func serve(ctx context.Context, a *app, reqTimeout time.Duration) error {
	log := a.log.Named("http")

	mh, err := khttp.RegisterMetrics(khttp.MetricsConfig{Collectors: a.collectors()})
	if err != nil {
		return err
	}
	rl, closeRL, err := a.limiter(ctx)
	if err != nil {
		return err
	}
	defer closeRL()
	srv := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: khttp.NewRouter(khttp.Deps{
			Resolver:    a.resolver(),
			Store:       a.store,
			Metrics:     mh,
			Timeout:     reqTimeout,
			RateLimiter: rl,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), logger.Driver(a.store.Name()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
