package scenario

import (
	"context"
	"fmt"
	"os"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/yodler/yodler/pkg/shell"
)

// shellStruct exposes the shell helpers as ctx.shell.
func shellStruct(ctx context.Context, sh *shell.Shell, call *callState) *starlarkstruct.Struct {
	pathPredicate := func(fn func(context.Context, string) (bool, error)) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			ok, err := fn(ctx, path)
			if err != nil {
				return nil, call.fail(err)
			}
			return starlark.Bool(ok), nil
		}
	}
	pathString := func(fn func(context.Context, string) (string, error)) builtinFunc {
		return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			out, err := fn(ctx, path)
			if err != nil {
				return nil, call.fail(err)
			}
			return starlark.String(out), nil
		}
	}
	done := func(err error) (starlark.Value, error) {
		if err != nil {
			return nil, call.fail(err)
		}
		return starlark.None, nil
	}

	sf := shell.NewSymfony(sh)

	return members("shell", map[string]builtinFunc{
		"exec":     pathString(sh.Exec),
		"readlink": pathString(sh.Readlink),
		"realpath": pathString(sh.Realpath),
		"dirname":  pathString(sh.Dirname),
		"which":    pathString(sh.Which),
		"exists":   pathPredicate(sh.Exists),
		"is_file":  pathPredicate(sh.IsFile),
		"is_dir":   pathPredicate(sh.IsDir),
		"is_link":  pathPredicate(sh.IsLink),

		"cd": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			sh.SetCwd(path)
			return starlark.None, nil
		},
		"as_user": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var user string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &user); err != nil {
				return nil, err
			}
			return done(sh.SetUser(ctx, user))
		},
		"mkdir": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				path    string
				parents = true
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "parents?", &parents); err != nil {
				return nil, err
			}
			return done(sh.Mkdir(ctx, path, parents))
		},
		"rm": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				path string
				sudo bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "sudo?", &sudo); err != nil {
				return nil, err
			}
			return done(sh.Rm(ctx, path, sudo))
		},
		"touch": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			return done(sh.Touch(ctx, path))
		},
		"ln": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				origin, link string
				relative     bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "origin", &origin, "link", &link, "relative?", &relative); err != nil {
				return nil, err
			}
			return done(sh.Ln(ctx, origin, link, relative))
		},
		"chmod": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				path            string
				mode            int
				recursive, sudo bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "mode", &mode, "recursive?", &recursive, "sudo?", &sudo); err != nil {
				return nil, err
			}
			return done(sh.Chmod(ctx, path, os.FileMode(mode), shell.Options{Recursive: recursive, Sudo: sudo}))
		},
		"chown": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				path, user, group string
				recursive, sudo   bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "user", &user, "group?", &group, "recursive?", &recursive, "sudo?", &sudo); err != nil {
				return nil, err
			}
			return done(sh.Chown(ctx, path, user, group, shell.Options{Recursive: recursive, Sudo: sudo}))
		},
		"copy": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var source, target string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &source, &target); err != nil {
				return nil, err
			}
			return done(sh.Copy(ctx, source, target))
		},
		"ls": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			entries, err := sh.Ls(ctx, path)
			if err != nil {
				return nil, call.fail(err)
			}
			list := make([]starlark.Value, len(entries))
			for i, e := range entries {
				list[i] = starlark.String(e)
			}
			return starlark.NewList(list), nil
		},
		"write": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var file, data string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &file, &data); err != nil {
				return nil, err
			}
			return done(sh.Write(ctx, file, []byte(data)))
		},
		"symfony": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				command            string
				cmdArgs            *starlark.List
				options            *starlark.Dict
				console            = "bin/console"
				env                = "prod"
				debug, interaction bool
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"command", &command, "args?", &cmdArgs, "options?", &options,
				"console?", &console, "env?", &env, "debug?", &debug, "interaction?", &interaction); err != nil {
				return nil, err
			}

			var argv []string
			if cmdArgs != nil {
				for i := 0; i < cmdArgs.Len(); i++ {
					arg, ok := starlark.AsString(cmdArgs.Index(i))
					if !ok {
						return nil, fmt.Errorf("%s: args must be strings, got %s", b.Name(), cmdArgs.Index(i).Type())
					}
					argv = append(argv, arg)
				}
			}
			var opts []shell.Option
			if options != nil {
				for _, item := range options.Items() {
					name, ok := starlark.AsString(item[0])
					if !ok {
						return nil, fmt.Errorf("%s: option names must be strings, got %s", b.Name(), item[0].Type())
					}
					o := shell.Option{Name: name}
					if item[1] != starlark.None {
						if o.Value, ok = starlark.AsString(item[1]); !ok {
							o.Value = item[1].String()
						}
					}
					opts = append(opts, o)
				}
			}

			sf.Env, sf.Debug, sf.Interaction = env, debug, interaction
			out, err := sf.RunCommand(ctx, console, command, argv, opts...)
			if err != nil {
				return nil, call.fail(err)
			}
			return starlark.String(out), nil
		},
		"read": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var file string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &file); err != nil {
				return nil, err
			}
			data, err := sh.Read(ctx, file)
			if err != nil {
				return nil, call.fail(err)
			}
			return starlark.String(data), nil
		},
	})
}
