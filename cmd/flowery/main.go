package main

import (
	"fmt"
	"os"

	"github.com/dfalbel/flowery/pkg/driver"
	"github.com/dfalbel/flowery/pkg/errors"
	"github.com/dfalbel/flowery/pkg/source"

	"github.com/spf13/cobra"
)

var exprFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "flowery",
		Short: "Compile generator bodies into block state machines",
	}
	rootCmd.PersistentFlags().StringVarP(&exprFlag, "expr", "e", "", "Compile the given expression instead of a file")

	compileCmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a generator body and print its numbered blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := inputSource(args)
			if err != nil {
				return err
			}
			blocks, errs := driver.CompileSource(sf)
			if len(errs) > 0 {
				reportErrors(errs)
				os.Exit(1)
			}
			fmt.Print(driver.FormatBlocks(blocks))
			return nil
		},
	}

	astCmd := &cobra.Command{
		Use:   "ast [file]",
		Short: "Print the parsed form of a generator body",
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := inputSource(args)
			if err != nil {
				return err
			}
			program, errs := driver.ParseSource(sf)
			if len(errs) > 0 {
				reportErrors(errs)
				os.Exit(1)
			}
			fmt.Println(program.String())
			return nil
		},
	}

	rootCmd.AddCommand(compileCmd, astCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func inputSource(args []string) (*source.SourceFile, error) {
	if exprFlag != "" {
		return source.NewExprSource(exprFlag), nil
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("expected a file argument or --expr")
	}
	return source.ReadFile(args[0])
}

func reportErrors(errs []errors.FloweryError) {
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e.Error())
	}
}
