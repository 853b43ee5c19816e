package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/service"
)

func newDocsCmd(a *app) *cobra.Command {
	var kindFlag string
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage saved documents and drawings",
	}
	cmd.PersistentFlags().StringVar(&kindFlag, "kind", string(model.KindDocument), "document or drawing")
	kind := func() (model.Kind, error) { return model.ParseKind(kindFlag) }

	// withStore opens the store and reports failures as status lines.
	withStore := func(cmd *cobra.Command, fn func(*service.DocumentService, model.Kind) error) error {
		k, err := kind()
		if err != nil {
			return err
		}
		svc, closeFn, err := a.openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		if err := fn(svc, k); err != nil {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), service.StatusText(err))
			return err
		}
		return nil
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(svc *service.DocumentService, k model.Kind) error {
				items, err := svc.List(cmd.Context(), k)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
				for _, it := range items {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", it.DocID, it.Title, it.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a saved item's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(svc *service.DocumentService, k model.Kind) error {
				snap, err := svc.Get(cmd.Context(), k, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), snap.Content)
				return err
			})
		},
	}

	var title, file string
	save := &cobra.Command{
		Use:   "save [id]",
		Short: "Save content from a file or stdin; a new id is generated when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(svc *service.DocumentService, k model.Kind) error {
				content, err := readInput(a.in, file)
				if err != nil {
					return err
				}
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					id = uuid.Must(uuid.NewV4()).String()
				}
				snap, err := svc.SaveTitled(cmd.Context(), model.DocumentSnapshot{
					Kind: k, DocID: id, Title: title, Content: string(content),
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s %s\n", snap.Kind, snap.DocID)
				return err
			})
		},
	}
	save.Flags().StringVar(&title, "title", "", "title to store with the item")
	save.Flags().StringVarP(&file, "file", "f", "-", "content file, - for stdin")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(svc *service.DocumentService, k model.Kind) error {
				if err := svc.Delete(cmd.Context(), k, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", k, args[0])
				return err
			})
		},
	}

	cmd.AddCommand(list, get, save, rm)
	return cmd
}

func readInput(stdin io.Reader, p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(p)
}
