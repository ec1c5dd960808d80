package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Giulio2002/gkv"
	"github.com/Giulio2002/gkv/backend"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gkv",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gkv.Version())
		},
	}

	dbsCmd = &cobra.Command{
		Use:   "dbs",
		Short: "List the named databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(rkv *gkv.Rkv) error {
				names, err := rkv.DatabaseNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					db, err := rkv.Env().OpenDatabase(name)
					if err != nil {
						return err
					}
					fmt.Printf("%s\t%s\n", name, shape(db))
				}
				return nil
			})
		},
	}

	statCmd = &cobra.Command{
		Use:   "stat",
		Short: "Print environment statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			withMetrics, _ := cmd.Flags().GetBool("metrics")
			return withEnv(func(rkv *gkv.Rkv) error {
				st, err := rkv.Stat()
				if err != nil {
					return err
				}
				info, err := rkv.Info()
				if err != nil {
					return err
				}
				ratio, err := rkv.LoadRatio()
				if err != nil {
					return err
				}
				fmt.Printf("version:        %s\n", rkv.Version())
				fmt.Printf("page size:      %d\n", st.PageSize)
				fmt.Printf("depth:          %d\n", st.Depth)
				fmt.Printf("branch pages:   %d\n", st.BranchPages)
				fmt.Printf("leaf pages:     %d\n", st.LeafPages)
				fmt.Printf("overflow pages: %d\n", st.OverflowPages)
				fmt.Printf("entries:        %d\n", st.Entries)
				fmt.Printf("map size:       %d\n", info.MapSize)
				fmt.Printf("last page:      %d\n", info.LastPgno)
				fmt.Printf("last txn:       %d\n", info.LastTxnID)
				fmt.Printf("readers:        %d/%d\n", info.NumReaders, info.MaxReaders)
				fmt.Printf("load ratio:     %.4f\n", ratio)
				fmt.Printf("files:          %s\n", strings.Join(rkv.Files(), " "))
				if withMetrics {
					fmt.Println()
					gkv.WriteMetrics(os.Stdout)
				}
				return nil
			})
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [db]",
		Short: "Print every entry of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reverse, _ := cmd.Flags().GetBool("reverse")
			hexKeys, _ := cmd.Flags().GetBool("hex")
			return withEnv(func(rkv *gkv.Rkv) error {
				iter, err := iterator(rkv, args[0], reverse)
				if err != nil {
					return err
				}
				return rkv.View(func(r *gkv.Reader) error {
					it, err := iter(r)
					if err != nil {
						return err
					}
					defer it.Close()
					for it.Next() {
						fmt.Printf("%s\t%s\t%s\n", formatKey(it.Key(), hexKeys), it.Value().Tag(), it.Value())
					}
					return it.Err()
				})
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [db] [key]",
		Short: "Print the values of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(cmd, args[1])
			if err != nil {
				return err
			}
			return withEnv(func(rkv *gkv.Rkv) error {
				db, err := rkv.Env().OpenDatabase(args[0])
				if err != nil {
					return err
				}
				if db.Flags()&backend.DBDupSort == 0 {
					store, err := rkv.OpenSingle(args[0], gkv.StoreOptions{})
					if err != nil {
						return err
					}
					return rkv.View(func(r *gkv.Reader) error {
						v, ok, err := store.Get(r, key)
						if err != nil {
							return err
						}
						if !ok {
							return fmt.Errorf("key %q not found", args[1])
						}
						fmt.Println(v)
						return nil
					})
				}

				store, err := rkv.OpenMulti(args[0], gkv.StoreOptions{})
				if err != nil {
					return err
				}
				return rkv.View(func(r *gkv.Reader) error {
					it, err := store.Get(r, key)
					if err != nil {
						return err
					}
					defer it.Close()
					for it.Next() {
						fmt.Println(it.Value())
					}
					return it.Err()
				})
			})
		},
	}

	putCmd = &cobra.Command{
		Use:   "put [db] [key] [value]",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(cmd, args[1])
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetString("type")
			value, err := parseValue(typ, args[2])
			if err != nil {
				return err
			}
			multi, _ := cmd.Flags().GetBool("multi")
			copies, _ := cmd.Flags().GetBool("keep-copies")
			opts := gkv.StoreOptions{Create: true}

			return withEnv(func(rkv *gkv.Rkv) error {
				if !multi {
					store, err := rkv.OpenSingle(args[0], opts)
					if err != nil {
						return err
					}
					return rkv.Update(func(w *gkv.Writer) error {
						return store.Put(w, key, value)
					})
				}
				store, err := rkv.OpenMulti(args[0], opts)
				if err != nil {
					return err
				}
				flags := gkv.WriteDefaults
				if copies {
					flags = gkv.WriteKeepCopies
				}
				return rkv.Update(func(w *gkv.Writer) error {
					return store.PutWithFlags(w, key, value, flags)
				})
			})
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [db] [key] [value]",
		Short: "Delete a key, or one value of a key in a multi-value database",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(cmd, args[1])
			if err != nil {
				return err
			}
			var value *gkv.Value
			if len(args) == 3 {
				typ, _ := cmd.Flags().GetString("type")
				v, err := parseValue(typ, args[2])
				if err != nil {
					return err
				}
				value = &v
			}
			return withEnv(func(rkv *gkv.Rkv) error {
				db, err := rkv.Env().OpenDatabase(args[0])
				if err != nil {
					return err
				}
				if db.Flags()&backend.DBDupSort == 0 || value == nil {
					return rkv.Update(func(w *gkv.Writer) error {
						return w.Delete(db, key, nil)
					})
				}
				store, err := rkv.OpenMulti(args[0], gkv.StoreOptions{})
				if err != nil {
					return err
				}
				return rkv.Update(func(w *gkv.Writer) error {
					return store.Delete(w, key, *value)
				})
			})
		},
	}
)

func init() {
	statCmd.Flags().Bool("metrics", false, WrapString("also print transaction metrics in Prometheus format"))
	dumpCmd.Flags().Bool("reverse", false, WrapString("walk the database in descending order"))

	for _, cmd := range []*cobra.Command{dumpCmd, getCmd, putCmd, delCmd} {
		cmd.Flags().Bool("hex", false, WrapString("keys are hex encoded"))
	}
	for _, cmd := range []*cobra.Command{putCmd, delCmd} {
		cmd.Flags().String("type", "str", WrapString("value type: bool, u32, i32, u64, i64, f64, instant, uuid, str, json, blob (hex)"))
	}
	putCmd.Flags().Bool("multi", false, WrapString("create a multi-value database if it does not exist"))
	putCmd.Flags().Bool("keep-copies", false, WrapString("store an exact duplicate as a separate copy"))
}

// withEnv opens the configured environment, runs fn and closes it.
func withEnv(fn func(rkv *gkv.Rkv) error) error {
	rkv, err := openEnv()
	if err != nil {
		return err
	}
	defer rkv.Close()
	return fn(rkv)
}

func shape(db backend.Database) string {
	s := "single"
	if db.Flags()&backend.DBDupSort != 0 {
		s = "multi"
	}
	if db.Flags()&backend.DBIntegerKey != 0 {
		s += ",integer"
	}
	return s
}

// iterator opens the store of any database and returns how to walk it.
func iterator(rkv *gkv.Rkv, name string, reverse bool) (func(gkv.Readable) (*gkv.Iter, error), error) {
	db, err := rkv.Env().OpenDatabase(name)
	if err != nil {
		return nil, err
	}
	if db.Flags()&backend.DBDupSort == 0 {
		store, err := rkv.OpenSingle(name, gkv.StoreOptions{})
		if err != nil {
			return nil, err
		}
		if reverse {
			return store.IterPrev, nil
		}
		return store.IterStart, nil
	}
	store, err := rkv.OpenMulti(name, gkv.StoreOptions{})
	if err != nil {
		return nil, err
	}
	if reverse {
		return store.IterPrev, nil
	}
	return store.IterStart, nil
}

func parseKey(cmd *cobra.Command, s string) ([]byte, error) {
	if isHex, _ := cmd.Flags().GetBool("hex"); isHex {
		return hex.DecodeString(s)
	}
	return []byte(s), nil
}

func formatKey(k []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(k)
	}
	return strconv.Quote(string(k))
}

func parseValue(typ, s string) (gkv.Value, error) {
	switch typ {
	case "str":
		return gkv.StrValue(s), nil
	case "json":
		return gkv.JSONValue(s), nil
	case "blob":
		b, err := hex.DecodeString(s)
		return gkv.BlobValue(b), err
	case "bool":
		b, err := strconv.ParseBool(s)
		return gkv.BoolValue(b), err
	case "u32":
		n, err := strconv.ParseUint(s, 10, 32)
		return gkv.U32Value(uint32(n)), err
	case "i32":
		n, err := strconv.ParseInt(s, 10, 32)
		return gkv.I32Value(int32(n)), err
	case "u64":
		n, err := strconv.ParseUint(s, 10, 64)
		return gkv.U64Value(n), err
	case "i64":
		n, err := strconv.ParseInt(s, 10, 64)
		return gkv.I64Value(n), err
	case "f64":
		f, err := strconv.ParseFloat(s, 64)
		return gkv.F64Value(f), err
	case "instant":
		t, err := time.Parse(time.RFC3339Nano, s)
		return gkv.InstantValue(t), err
	case "uuid":
		id, err := uuid.Parse(s)
		return gkv.UUIDValue(id), err
	}
	return gkv.Value{}, fmt.Errorf("unknown value type %q", typ)
}
