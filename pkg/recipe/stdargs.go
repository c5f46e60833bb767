// SPDX-License-Identifier: MPL-2.0

package recipe

import "slices"

// StdConfigureArgs are appended to every configure invocation.
var StdConfigureArgs = []Template{
	"--disable-debug",
	"--disable-dependency-tracking",
	"--prefix=<self:prefix>",
	"--libdir=<self:lib>",
}

// StdCMakeArgs are appended to cmake invocations that configure a build tree.
var StdCMakeArgs = []Template{
	"-DCMAKE_INSTALL_PREFIX=<self:prefix>",
	"-DCMAKE_INSTALL_LIBDIR=lib",
	"-DCMAKE_BUILD_TYPE=Release",
	"-DCMAKE_FIND_FRAMEWORK=LAST",
	"-DCMAKE_VERBOSE_MAKEFILE=ON",
	"-Wno-dev",
	"-DBUILD_TESTING=OFF",
}

// Invocation returns the program and full argument templates for the step.
// Shell steps return the snippet as the only argument and an empty program.
func (st BuildStep) Invocation() (program string, args []Template) {
	switch st.Tool {
	case ToolConfigure:
		return "./configure", append(slices.Clone(st.Args), StdConfigureArgs...)
	case ToolCMake:
		if IsCMakeConfigure(st.Args) {
			return "cmake", append(slices.Clone(st.Args), StdCMakeArgs...)
		}
		return "cmake", slices.Clone(st.Args)
	case ToolCommand:
		if len(st.Args) == 0 {
			return "", nil
		}
		return string(st.Args[0]), slices.Clone(st.Args[1:])
	default:
		return "", slices.Clone(st.Args)
	}
}

// IsCMakeConfigure reports whether a cmake argument list configures a build
// tree rather than driving an existing one.
func IsCMakeConfigure(args []Template) bool {
	for _, a := range args {
		switch a {
		case "--build", "--install", "-E", "-P":
			return false
		}
	}
	return true
}
