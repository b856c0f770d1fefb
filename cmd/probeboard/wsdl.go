package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validate"
)

var (
	wsdlAuthType string
	wsdlUsername string
	wsdlPassword string
	wsdlDomain   string
)

var wsdlCmd = &cobra.Command{
	Use:   "wsdl",
	Short: "Inspect a WSDL or call one of its operations",
}

var wsdlMethodsCmd = &cobra.Command{
	Use:   "methods <wsdl-url>",
	Short: "List the operations a WSDL exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		soap, auth, err := wsdlClient()
		if err != nil {
			return err
		}
		doc, err := soap.Inspect(commandContext(cmd), args[0], auth)
		if err != nil {
			return err
		}
		for _, m := range doc.Methods() {
			fmt.Println(m)
		}
		return nil
	},
}

var wsdlParamsCmd = &cobra.Command{
	Use:   "params <wsdl-url> <method>",
	Short: "Show the input parameters of an operation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		soap, auth, err := wsdlClient()
		if err != nil {
			return err
		}
		doc, err := soap.Inspect(commandContext(cmd), args[0], auth)
		if err != nil {
			return err
		}
		params, err := doc.Params(args[1])
		if err != nil {
			return err
		}
		for _, p := range params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("%s\t%s\t%s\n", p.Name, p.Type, req)
		}
		return nil
	},
}

var wsdlCallCmd = &cobra.Command{
	Use:   "call <wsdl-url> <method> [name=value ...]",
	Short: "Invoke an operation and print its result as JSON",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		soap, auth, err := wsdlClient()
		if err != nil {
			return err
		}
		result, err := soap.Invoke(commandContext(cmd), args[0], args[1], params, auth)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	for _, c := range []*cobra.Command{wsdlMethodsCmd, wsdlParamsCmd, wsdlCallCmd} {
		c.Flags().StringVar(&wsdlAuthType, "auth-type", "", "ntlm or kerberos")
		c.Flags().StringVar(&wsdlUsername, "username", "", "account name (user@REALM for kerberos)")
		c.Flags().StringVar(&wsdlPassword, "password", "", "password, defaults to $PROBEBOARD_PASSWORD")
		c.Flags().StringVar(&wsdlDomain, "domain", "", "NTLM domain")
		wsdlCmd.AddCommand(c)
	}
}

func wsdlClient() (*checker.SOAPChecker, *storage.Auth, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var auth *storage.Auth
	if wsdlUsername != "" {
		password := wsdlPassword
		if password == "" {
			password = os.Getenv("PROBEBOARD_PASSWORD")
		}
		authType := wsdlAuthType
		if authType == "" {
			authType = storage.AuthNTLM
		}
		auth = &storage.Auth{AuthType: authType, Username: wsdlUsername, Password: password, Domain: wsdlDomain}
		if err := validate.ValidateAuth(auth); err != nil {
			return nil, nil, err
		}
	}
	return &checker.SOAPChecker{Transport: cfg.Transport(), Timeout: cfg.Checks.Timeout}, auth, nil
}

func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q must be name=value", arg)
		}
		params[name] = value
	}
	return params, nil
}
